package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/calvinalkan/courtbook/internal/store"

	flag "github.com/spf13/pflag"
)

const (
	defaultOpening  = "08:00"
	defaultClosing  = "22:00"
	defaultSlotStep = 60
)

var errDateAndMember = errors.New("--date and --member cannot be used together")

// ReservationCreateCmd returns the reservation create command.
func ReservationCreateCmd(app *App) *Command {
	fs := flag.NewFlagSet("reservation create", flag.ContinueOnError)
	fs.String("court", "", "Court ID (required)")
	fs.String("date", "", "Date as YYYY-MM-DD (required)")
	fs.String("start", "", "Start time as HH:MM (required)")
	fs.String("end", "", "End time as HH:MM (required)")
	fs.String("member", "", "Booking member ID")
	fs.String("guest-name", "", "Guest name, when not booked by a member")
	fs.String("guest-email", "", "Guest email")
	fs.String("guest-phone", "", "Guest phone")
	fs.String("payment-id", "", "Payment reference")
	fs.String("payment-status", "", "Payment status")
	fs.Float64("payment-amount", 0, "Amount paid")
	fs.String("notes", "", "Free-form notes")

	return &Command{
		Flags: fs,
		Usage: "reservation create [flags]",
		Short: "Book a court",
		Long: `Book a court for a member or a guest.

Fails when the slot overlaps a confirmed reservation on the same court and
date. Slots are half-open: 10:00-11:00 and 11:00-12:00 do not overlap.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execReservationCreate(ctx, io, app, fs, args)
		},
	}
}

func execReservationCreate(ctx context.Context, io *IO, app *App, fs *flag.FlagSet, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %s", errTooManyArgs, strings.Join(args, " "))
	}

	s, err := app.Store(ctx)
	if err != nil {
		return err
	}

	amount, _ := fs.GetFloat64("payment-amount")

	res, err := s.Reservations.Create(ctx, store.NewReservation{
		CourtID: flagString(fs, "court"),
		Date:    flagString(fs, "date"),
		TimeSlot: store.TimeSlot{
			Start: flagString(fs, "start"),
			End:   flagString(fs, "end"),
		},
		MemberID:      flagString(fs, "member"),
		GuestName:     flagString(fs, "guest-name"),
		GuestEmail:    flagString(fs, "guest-email"),
		GuestPhone:    flagString(fs, "guest-phone"),
		PaymentID:     flagString(fs, "payment-id"),
		PaymentStatus: flagString(fs, "payment-status"),
		PaymentAmount: amount,
		Notes:         flagString(fs, "notes"),
	})
	if err != nil {
		return err
	}

	io.Println(res.ID)

	return nil
}

// ReservationLsCmd returns the reservation ls command.
func ReservationLsCmd(app *App) *Command {
	fs := flag.NewFlagSet("reservation ls", flag.ContinueOnError)
	fs.String("date", "", "Only confirmed reservations on this date, by court and start")
	fs.String("member", "", "Only reservations of this member, newest date first")
	fs.String("status", "", "Filter by status (confirmed|cancelled)")

	return &Command{
		Flags: fs,
		Usage: "reservation ls [flags]",
		Short: "List reservations",
		Long:  "List reservations in file order, or filtered by date or member.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execReservationLs(ctx, io, app, fs, args)
		},
	}
}

func execReservationLs(ctx context.Context, io *IO, app *App, fs *flag.FlagSet, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %s", errTooManyArgs, strings.Join(args, " "))
	}

	if fs.Changed("date") && fs.Changed("member") {
		return errDateAndMember
	}

	status := store.ReservationStatus(flagString(fs, "status"))
	if status != "" && status != store.StatusConfirmed && status != store.StatusCancelled {
		return fmt.Errorf("invalid status: %s", status)
	}

	s, err := app.Store(ctx)
	if err != nil {
		return err
	}

	var list []store.Reservation

	switch {
	case fs.Changed("date"):
		list, err = s.Reservations.FindByDate(ctx, flagString(fs, "date"))
	case fs.Changed("member"):
		list, err = s.Reservations.FindByMember(ctx, flagString(fs, "member"))
	default:
		list, err = s.Reservations.FindAll(ctx)
	}

	if err != nil {
		return err
	}

	for _, res := range list {
		if status != "" && res.Status != status {
			continue
		}

		io.Println(formatReservation(res))
	}

	return nil
}

// ReservationShowCmd returns the reservation show command.
func ReservationShowCmd(app *App) *Command {
	return &Command{
		Flags: flag.NewFlagSet("reservation show", flag.ContinueOnError),
		Usage: "reservation show <id>",
		Short: "Show a reservation as JSON",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			id, err := oneID(args)
			if err != nil {
				return err
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			res, err := s.Reservations.FindByID(ctx, id)
			if err != nil {
				return err
			}

			if res == nil {
				return fmt.Errorf("%w: reservation %s", store.ErrNotFound, id)
			}

			return printJSON(io, res)
		},
	}
}

// ReservationUpdateCmd returns the reservation update command.
func ReservationUpdateCmd(app *App) *Command {
	fs := flag.NewFlagSet("reservation update", flag.ContinueOnError)
	fs.String("court", "", "Move to court")
	fs.String("date", "", "Move to date")
	fs.String("start", "", "New start time (with --end)")
	fs.String("end", "", "New end time (with --start)")
	fs.String("member", "", "Booking member ID")
	fs.String("guest-name", "", "Guest name")
	fs.String("guest-email", "", "Guest email")
	fs.String("guest-phone", "", "Guest phone")
	fs.String("payment-id", "", "Payment reference")
	fs.String("payment-status", "", "Payment status")
	fs.Float64("payment-amount", 0, "Amount paid")
	fs.String("notes", "", "Free-form notes")

	return &Command{
		Flags: fs,
		Usage: "reservation update <id> [flags]",
		Short: "Change or move a reservation",
		Long: `Change the given fields of a reservation.

Moving a reservation (court, date or time) re-checks it for conflicts with
every other confirmed reservation. Cancelled reservations cannot be moved.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execReservationUpdate(ctx, io, app, fs, args)
		},
	}
}

func execReservationUpdate(ctx context.Context, io *IO, app *App, fs *flag.FlagSet, args []string) error {
	id, err := oneID(args)
	if err != nil {
		return err
	}

	if fs.Changed("start") != fs.Changed("end") {
		return errSlotIncomplete
	}

	patch := store.ReservationPatch{
		CourtID:       changedString(fs, "court"),
		Date:          changedString(fs, "date"),
		MemberID:      changedString(fs, "member"),
		GuestName:     changedString(fs, "guest-name"),
		GuestEmail:    changedString(fs, "guest-email"),
		GuestPhone:    changedString(fs, "guest-phone"),
		PaymentID:     changedString(fs, "payment-id"),
		PaymentStatus: changedString(fs, "payment-status"),
		Notes:         changedString(fs, "notes"),
	}

	if fs.Changed("start") {
		patch.TimeSlot = &store.TimeSlot{Start: flagString(fs, "start"), End: flagString(fs, "end")}
	}

	if fs.Changed("payment-amount") {
		amount, _ := fs.GetFloat64("payment-amount")
		patch.PaymentAmount = &amount
	}

	s, err := app.Store(ctx)
	if err != nil {
		return err
	}

	res, err := s.Reservations.Update(ctx, id, patch)
	if err != nil {
		return err
	}

	io.Println(formatReservation(res))

	return nil
}

// ReservationCancelCmd returns the reservation cancel command.
func ReservationCancelCmd(app *App) *Command {
	return &Command{
		Flags: flag.NewFlagSet("reservation cancel", flag.ContinueOnError),
		Usage: "reservation cancel <id>",
		Short: "Cancel a reservation",
		Long: `Cancel a reservation, freeing its slot.

Cancelling a reservation that is missing or already cancelled changes
nothing and is reported as a warning.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			id, err := oneID(args)
			if err != nil {
				return err
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			cancelled, err := s.Reservations.Delete(ctx, id)
			if err != nil {
				return err
			}

			if !cancelled {
				io.Warn("reservation "+id+" not cancelled", "it does not exist or is already cancelled")

				return nil
			}

			io.Println("Cancelled", id)

			return nil
		},
	}
}

// ReservationCheckCmd returns the reservation check command.
func ReservationCheckCmd(app *App) *Command {
	fs := flag.NewFlagSet("reservation check", flag.ContinueOnError)
	fs.String("court", "", "Court ID (required)")
	fs.String("date", "", "Date as YYYY-MM-DD (required)")
	fs.String("start", "", "Start time as HH:MM (required)")
	fs.String("end", "", "End time as HH:MM (required)")
	fs.String("exclude", "", "Ignore this reservation ID")

	return &Command{
		Flags: fs,
		Usage: "reservation check [flags]",
		Short: "Check whether a slot is free",
		Long:  "Print \"free\" or \"booked\" for a slot on a court. Does not reserve anything.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %s", errTooManyArgs, strings.Join(args, " "))
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			free, err := s.Reservations.CheckAvailability(ctx,
				flagString(fs, "court"), flagString(fs, "date"),
				flagString(fs, "start"), flagString(fs, "end"),
				flagString(fs, "exclude"),
			)
			if err != nil {
				return err
			}

			if free {
				io.Println("free")
			} else {
				io.Println("booked")
			}

			return nil
		},
	}
}

// ReservationSlotsCmd returns the reservation slots command.
func ReservationSlotsCmd(app *App) *Command {
	fs := flag.NewFlagSet("reservation slots", flag.ContinueOnError)
	fs.String("court", "", "Court ID (required)")
	fs.String("date", "", "Date as YYYY-MM-DD (required)")
	fs.String("from", defaultOpening, "First slot start")
	fs.String("until", defaultClosing, "Last slot end")
	fs.Int("step", defaultSlotStep, "Slot length in minutes")

	return &Command{
		Flags: fs,
		Usage: "reservation slots [flags]",
		Short: "List free slots of a court",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %s", errTooManyArgs, strings.Join(args, " "))
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			step, _ := fs.GetInt("step")

			free, err := s.Reservations.FreeSlots(ctx,
				flagString(fs, "court"), flagString(fs, "date"),
				flagString(fs, "from"), flagString(fs, "until"), step,
			)
			if err != nil {
				return err
			}

			for _, slot := range free {
				io.Println(slot.String())
			}

			return nil
		},
	}
}

func formatReservation(r store.Reservation) string {
	occupant := "member:" + r.MemberID
	if r.MemberID == "" {
		occupant = "guest:" + r.GuestName
	}

	return fmt.Sprintf("%s  %s  %s %s  %s  %s", r.ID, r.CourtID, r.Date, r.TimeSlot, r.Status, occupant)
}

func oneID(args []string) (string, error) {
	switch len(args) {
	case 0:
		return "", errIDRequired
	case 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("%w: %s", errTooManyArgs, strings.Join(args[1:], " "))
	}
}

func flagString(fs *flag.FlagSet, name string) string {
	v, _ := fs.GetString(name)

	return v
}

// changedString returns the flag value, or nil when it was not given.
func changedString(fs *flag.FlagSet, name string) *string {
	if !fs.Changed(name) {
		return nil
	}

	v := flagString(fs, name)

	return &v
}

func printJSON(io *IO, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	io.Println(string(data))

	return nil
}
