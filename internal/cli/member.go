package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/calvinalkan/courtbook/internal/store"

	flag "github.com/spf13/pflag"
)

// MemberCreateCmd returns the member create command.
func MemberCreateCmd(app *App) *Command {
	fs := flag.NewFlagSet("member create", flag.ContinueOnError)
	fs.String("first", "", "First name (required)")
	fs.String("last", "", "Last name (required)")
	fs.String("email", "", "Email, unique across members (required)")
	fs.String("phone", "", "Phone")
	fs.String("number", "", "Member number (generated if empty)")
	fs.String("role", string(store.RolePlayer), "Role (player|coach|parent|admin)")
	fs.String("dob", "", "Date of birth as YYYY-MM-DD")
	fs.String("address", "", "Postal address")
	fs.String("notes", "", "Free-form notes")
	fs.Bool("inactive", false, "Create the member inactive")
	addEmergencyFlags(fs)

	return &Command{
		Flags: fs,
		Usage: "member create [flags]",
		Short: "Add a member",
		Long: `Add a club member.

The member number is generated as <prefix>-NNNN when --number is not given.
Fails when the email or member number is already used by any member,
active or not.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execMemberCreate(ctx, io, app, fs, args)
		},
	}
}

func execMemberCreate(ctx context.Context, io *IO, app *App, fs *flag.FlagSet, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %s", errTooManyArgs, strings.Join(args, " "))
	}

	s, err := app.Store(ctx)
	if err != nil {
		return err
	}

	inactive, _ := fs.GetBool("inactive")
	active := !inactive

	m, err := s.Members.Create(ctx, store.NewMember{
		MemberNumber:     flagString(fs, "number"),
		FirstName:        flagString(fs, "first"),
		LastName:         flagString(fs, "last"),
		Email:            flagString(fs, "email"),
		Phone:            flagString(fs, "phone"),
		IsActive:         &active,
		Role:             store.Role(flagString(fs, "role")),
		DateOfBirth:      flagString(fs, "dob"),
		Address:          flagString(fs, "address"),
		EmergencyContact: emergencyContact(fs, store.EmergencyContact{}),
		Notes:            flagString(fs, "notes"),
	})
	if err != nil {
		return err
	}

	io.Println(formatMember(m))

	return nil
}

// MemberLsCmd returns the member ls command.
func MemberLsCmd(app *App) *Command {
	fs := flag.NewFlagSet("member ls", flag.ContinueOnError)
	fs.String("status", string(store.MemberStatusAll), "Filter by status (all|active|inactive)")

	return &Command{
		Flags: fs,
		Usage: "member ls [flags]",
		Short: "List members",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %s", errTooManyArgs, strings.Join(args, " "))
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			list, err := s.Members.FindAll(ctx, store.MemberFilter{Status: store.MemberStatus(flagString(fs, "status"))})
			if err != nil {
				return err
			}

			for _, m := range list {
				io.Println(formatMember(m))
			}

			return nil
		},
	}
}

// MemberShowCmd returns the member show command.
func MemberShowCmd(app *App) *Command {
	return &Command{
		Flags: flag.NewFlagSet("member show", flag.ContinueOnError),
		Usage: "member show <id|email|number>",
		Short: "Show a member as JSON",
		Long:  "Show a member looked up by ID, email (anything with an @) or member number.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			key, err := oneID(args)
			if err != nil {
				return err
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			m, err := findMember(ctx, s.Members, key)
			if err != nil {
				return err
			}

			return printJSON(io, m)
		},
	}
}

func findMember(ctx context.Context, repo *store.MemberRepo, key string) (*store.Member, error) {
	if strings.Contains(key, "@") {
		m, err := repo.FindByEmail(ctx, key)
		if err != nil || m != nil {
			return m, err
		}

		return nil, fmt.Errorf("%w: member with email %s", store.ErrNotFound, key)
	}

	m, err := repo.FindByID(ctx, key)
	if err != nil || m != nil {
		return m, err
	}

	m, err = repo.FindByMemberNumber(ctx, key)
	if err != nil || m != nil {
		return m, err
	}

	return nil, fmt.Errorf("%w: member %s", store.ErrNotFound, key)
}

// MemberSearchCmd returns the member search command.
func MemberSearchCmd(app *App) *Command {
	return &Command{
		Flags: flag.NewFlagSet("member search", flag.ContinueOnError),
		Usage: "member search <query>",
		Short: "Find members by name, email, phone or number",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errQueryRequired
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			found, err := s.Members.Search(ctx, query)
			if err != nil {
				return err
			}

			for _, m := range found {
				io.Println(formatMember(m))
			}

			return nil
		},
	}
}

// MemberUpdateCmd returns the member update command.
func MemberUpdateCmd(app *App) *Command {
	fs := flag.NewFlagSet("member update", flag.ContinueOnError)
	fs.String("first", "", "First name")
	fs.String("last", "", "Last name")
	fs.String("email", "", "Email")
	fs.String("phone", "", "Phone")
	fs.String("number", "", "Member number")
	fs.String("role", "", "Role (player|coach|parent|admin)")
	fs.String("dob", "", "Date of birth as YYYY-MM-DD")
	fs.String("address", "", "Postal address")
	fs.String("notes", "", "Free-form notes")
	fs.Bool("active", true, "Active flag (--active=false deactivates)")
	addEmergencyFlags(fs)

	return &Command{
		Flags: fs,
		Usage: "member update <id> [flags]",
		Short: "Change a member",
		Long:  "Change the given fields of a member. Email and number changes are checked for uniqueness.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execMemberUpdate(ctx, io, app, fs, args)
		},
	}
}

func execMemberUpdate(ctx context.Context, io *IO, app *App, fs *flag.FlagSet, args []string) error {
	id, err := oneID(args)
	if err != nil {
		return err
	}

	s, err := app.Store(ctx)
	if err != nil {
		return err
	}

	patch := store.MemberPatch{
		MemberNumber: changedString(fs, "number"),
		FirstName:    changedString(fs, "first"),
		LastName:     changedString(fs, "last"),
		Email:        changedString(fs, "email"),
		Phone:        changedString(fs, "phone"),
		DateOfBirth:  changedString(fs, "dob"),
		Address:      changedString(fs, "address"),
		Notes:        changedString(fs, "notes"),
	}

	if fs.Changed("role") {
		role := store.Role(flagString(fs, "role"))
		patch.Role = &role
	}

	if fs.Changed("active") {
		active, _ := fs.GetBool("active")
		patch.IsActive = &active
	}

	if fs.Changed("emergency-name") || fs.Changed("emergency-phone") || fs.Changed("emergency-relationship") {
		current, err := s.Members.FindByID(ctx, id)
		if err != nil {
			return err
		}

		if current == nil {
			return fmt.Errorf("%w: member %s", store.ErrNotFound, id)
		}

		contact := emergencyContact(fs, current.EmergencyContact)
		patch.EmergencyContact = &contact
	}

	m, err := s.Members.Update(ctx, id, patch)
	if err != nil {
		return err
	}

	io.Println(formatMember(m))

	return nil
}

// MemberDeleteCmd returns the member delete command.
func MemberDeleteCmd(app *App) *Command {
	return &Command{
		Flags: flag.NewFlagSet("member delete", flag.ContinueOnError),
		Usage: "member delete <id>",
		Short: "Deactivate a member",
		Long: `Deactivate a member. The record is kept and its email and member
number stay taken. Deleting a missing or inactive member is reported as a
warning.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			id, err := oneID(args)
			if err != nil {
				return err
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			deleted, err := s.Members.Delete(ctx, id)
			if err != nil {
				return err
			}

			if !deleted {
				io.Warn("member "+id+" not deactivated", "it does not exist or is already inactive")

				return nil
			}

			io.Println("Deactivated", id)

			return nil
		},
	}
}

// MemberPenaltyCmd returns the member penalty command.
func MemberPenaltyCmd(app *App) *Command {
	fs := flag.NewFlagSet("member penalty", flag.ContinueOnError)
	fs.Int("add", 1, "Change to the penalty count (negative to forgive)")

	return &Command{
		Flags: fs,
		Usage: "member penalty <id> [--add=N]",
		Short: "Record a late cancellation penalty",
		Long:  "Add to a member's late cancellation count. The count never drops below zero.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			id, err := oneID(args)
			if err != nil {
				return err
			}

			s, err := app.Store(ctx)
			if err != nil {
				return err
			}

			delta, _ := fs.GetInt("add")

			m, err := s.Members.AddPenalty(ctx, id, delta)
			if err != nil {
				return err
			}

			io.Printf("%s penalties=%d\n", m.MemberNumber, m.PenaltyCancellations)

			return nil
		},
	}
}

func addEmergencyFlags(fs *flag.FlagSet) {
	fs.String("emergency-name", "", "Emergency contact name")
	fs.String("emergency-phone", "", "Emergency contact phone")
	fs.String("emergency-relationship", "", "Emergency contact relationship")
}

// emergencyContact overlays the emergency flags that were given onto base.
func emergencyContact(fs *flag.FlagSet, base store.EmergencyContact) store.EmergencyContact {
	setTrimmed := func(dst *string, name string) {
		if fs.Changed(name) {
			*dst = strings.TrimSpace(flagString(fs, name))
		}
	}

	setTrimmed(&base.Name, "emergency-name")
	setTrimmed(&base.Phone, "emergency-phone")
	setTrimmed(&base.Relationship, "emergency-relationship")

	return base
}

func formatMember(m store.Member) string {
	state := "active"
	if !m.IsActive {
		state = "inactive"
	}

	return fmt.Sprintf("%s  %s  %s  %s  %s  %s", m.MemberNumber, m.ID, m.FullName(), m.Email, m.Role, state)
}
