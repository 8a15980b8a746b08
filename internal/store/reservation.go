package store

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/calvinalkan/courtbook/internal/cache"
	"github.com/calvinalkan/courtbook/internal/metrics"
	"github.com/calvinalkan/courtbook/pkg/timerange"
)

// ReservationStatus is the lifecycle state of a reservation. Cancelled is
// terminal.
type ReservationStatus string

// Reservation states.
const (
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
)

// TimeSlot is a half-open [Start, End) clock range, stored as "HH:MM".
type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Range parses the slot.
func (s TimeSlot) Range() (timerange.Range, error) {
	return timerange.Parse(s.Start, s.End)
}

func (s TimeSlot) String() string {
	return s.Start + "-" + s.End
}

// Reservation is one court booking. The occupant is either a member
// (MemberID) or a guest (Guest* fields).
type Reservation struct {
	ID            string            `json:"id"`
	CourtID       string            `json:"courtId"`
	Date          string            `json:"date"`
	TimeSlot      TimeSlot          `json:"timeSlot"`
	MemberID      string            `json:"memberId,omitempty"`
	GuestName     string            `json:"guestName,omitempty"`
	GuestEmail    string            `json:"guestEmail,omitempty"`
	GuestPhone    string            `json:"guestPhone,omitempty"`
	Status        ReservationStatus `json:"status"`
	PaymentID     string            `json:"paymentId,omitempty"`
	PaymentStatus string            `json:"paymentStatus,omitempty"`
	PaymentAmount float64           `json:"paymentAmount,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt,omitzero"`
	CancelledAt   time.Time         `json:"cancelledAt,omitzero"`
}

// Confirmed reports whether the reservation holds its slot.
func (r Reservation) Confirmed() bool {
	return r.Status == StatusConfirmed
}

// NewReservation is the input to [ReservationRepo.Create].
type NewReservation struct {
	CourtID       string
	Date          string
	TimeSlot      TimeSlot
	MemberID      string
	GuestName     string
	GuestEmail    string
	GuestPhone    string
	PaymentID     string
	PaymentStatus string
	PaymentAmount float64
	Notes         string
}

// ReservationPatch changes the non-nil fields of a reservation. Changing
// CourtID, Date or TimeSlot moves the booking and is re-checked for
// conflicts.
type ReservationPatch struct {
	CourtID       *string
	Date          *string
	TimeSlot      *TimeSlot
	MemberID      *string
	GuestName     *string
	GuestEmail    *string
	GuestPhone    *string
	PaymentID     *string
	PaymentStatus *string
	PaymentAmount *float64
	Notes         *string
}

// AvailabilityView is the booked state of every court on one date. Courts
// without confirmed bookings are absent.
type AvailabilityView struct {
	Date   string
	Booked map[string][]timerange.Range
}

// IsFree reports whether slot is free on courtID.
func (v AvailabilityView) IsFree(courtID string, slot timerange.Range) bool {
	for _, booked := range v.Booked[courtID] {
		if booked.Overlaps(slot) {
			return false
		}
	}

	return true
}

// Courts returns the courts with at least one booking, sorted.
func (v AvailabilityView) Courts() []string {
	courts := make([]string, 0, len(v.Booked))
	for court := range v.Booked {
		courts = append(courts, court)
	}

	slices.Sort(courts)

	return courts
}

const (
	reservationsAllKey    = "reservations:all"
	availabilityKeyPrefix = "availability:"
	reservationIDPrefix   = "reservation:id:"
)

func availabilityKey(date string) string { return availabilityKeyPrefix + date }

// ReservationRepo stores reservations and enforces that no two confirmed
// reservations on the same court and date overlap.
type ReservationRepo struct {
	col     *collection[Reservation]
	lists   *cache.Cache[[]Reservation]
	byID    *cache.Cache[Reservation]
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func newReservationRepo(col *collection[Reservation], opts Options) *ReservationRepo {
	return &ReservationRepo{
		col:     col,
		lists:   cache.New[[]Reservation]("reservation_lists", opts.Metrics),
		byID:    cache.New[Reservation]("reservations", opts.Metrics),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// FindAll returns every reservation, cancelled ones included, in file order.
func (r *ReservationRepo) FindAll(ctx context.Context) ([]Reservation, error) {
	return r.cachedList(ctx, reservationsAllKey, func(Reservation) bool { return true })
}

// FindByDate returns the confirmed reservations on date, ordered by court
// and start time.
func (r *ReservationRepo) FindByDate(ctx context.Context, date string) ([]Reservation, error) {
	err := checkDate("date", date)
	if err != nil {
		return nil, err
	}

	return r.cachedList(ctx, availabilityKey(date), func(res Reservation) bool {
		return res.Confirmed() && res.Date == date
	})
}

// FindByID returns the reservation or nil when there is none.
func (r *ReservationRepo) FindByID(ctx context.Context, id string) (*Reservation, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	err = r.revalidate()
	if err != nil {
		return nil, err
	}

	key := reservationIDPrefix + id

	if res, ok := r.byID.Get(key); ok {
		return &res, nil
	}

	gen := r.byID.Generation()

	records, err := r.col.load()
	if err != nil {
		return nil, err
	}

	i := indexReservation(records, id)
	if i < 0 {
		return nil, nil
	}

	res := records[i]
	r.byID.SetIfUnchanged(key, res, gen)

	return &res, nil
}

// FindByMember returns every reservation of memberID, newest date first.
func (r *ReservationRepo) FindByMember(ctx context.Context, memberID string) ([]Reservation, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	records, err := r.col.load()
	if err != nil {
		return nil, err
	}

	out := slices.DeleteFunc(records, func(res Reservation) bool { return res.MemberID != memberID })

	slices.SortStableFunc(out, func(a, b Reservation) int {
		return cmp.Or(cmp.Compare(b.Date, a.Date), cmp.Compare(a.TimeSlot.Start, b.TimeSlot.Start))
	})

	return out, nil
}

// Create books a slot. It fails with [ErrConflict] when a confirmed
// reservation on the same court and date overlaps, and with [ErrValidation]
// for malformed input. The conflict check runs against the file as it is
// under the lock, not against any cached view.
func (r *ReservationRepo) Create(ctx context.Context, in NewReservation) (Reservation, error) {
	slot, err := in.validate()
	if err != nil {
		observeRejection(r.logger, r.metrics, "reservation.create", err)

		return Reservation{}, err
	}

	var created Reservation

	err = r.col.mutate(ctx, func(records []Reservation) ([]Reservation, bool, error) {
		conflictErr := r.checkConflict(records, in.CourtID, in.Date, slot, "")
		if conflictErr != nil {
			return nil, false, conflictErr
		}

		id, err := newID()
		if err != nil {
			return nil, false, err
		}

		created = Reservation{
			ID:            id,
			CourtID:       in.CourtID,
			Date:          in.Date,
			TimeSlot:      slotOf(slot),
			MemberID:      strings.TrimSpace(in.MemberID),
			GuestName:     strings.TrimSpace(in.GuestName),
			GuestEmail:    normalizeEmail(in.GuestEmail),
			GuestPhone:    strings.TrimSpace(in.GuestPhone),
			Status:        StatusConfirmed,
			PaymentID:     in.PaymentID,
			PaymentStatus: in.PaymentStatus,
			PaymentAmount: in.PaymentAmount,
			Notes:         in.Notes,
			CreatedAt:     r.now().UTC(),
		}

		return append(records, created), true, nil
	})
	if err != nil {
		observeRejection(r.logger, r.metrics, "reservation.create", err)

		return Reservation{}, err
	}

	r.invalidate(created.ID, created.Date)

	return created, nil
}

// Update applies patch to reservation id. A cancelled reservation cannot be
// moved. When court, date or slot change, the new slot is checked against
// every other confirmed reservation.
func (r *ReservationRepo) Update(ctx context.Context, id string, patch ReservationPatch) (Reservation, error) {
	var before, after Reservation

	err := r.col.mutate(ctx, func(records []Reservation) ([]Reservation, bool, error) {
		i := indexReservation(records, id)
		if i < 0 {
			return nil, false, newError(CodeNotFound, "reservation "+id+" not found", nil)
		}

		before = records[i]

		next, moved, slot, err := patch.apply(before)
		if err != nil {
			return nil, false, err
		}

		if moved {
			if !before.Confirmed() {
				return nil, false, validationError("reservation %s is cancelled and cannot be moved", id)
			}

			conflictErr := r.checkConflict(records, next.CourtID, next.Date, slot, id)
			if conflictErr != nil {
				return nil, false, conflictErr
			}
		}

		next.UpdatedAt = r.now().UTC()
		records[i] = next
		after = next

		return records, true, nil
	})
	if err != nil {
		observeRejection(r.logger, r.metrics, "reservation.update", err)

		return Reservation{}, err
	}

	r.invalidate(id, before.Date, after.Date)

	return after, nil
}

// Delete cancels reservation id. The record stays in the file. Reports false
// when the reservation does not exist or is already cancelled.
func (r *ReservationRepo) Delete(ctx context.Context, id string) (bool, error) {
	var (
		cancelled bool
		date      string
	)

	err := r.col.mutate(ctx, func(records []Reservation) ([]Reservation, bool, error) {
		i := indexReservation(records, id)
		if i < 0 || !records[i].Confirmed() {
			return records, false, nil
		}

		now := r.now().UTC()
		records[i].Status = StatusCancelled
		records[i].UpdatedAt = now
		records[i].CancelledAt = now
		cancelled = true
		date = records[i].Date

		return records, true, nil
	})
	if err != nil {
		return false, err
	}

	if cancelled {
		r.invalidate(id, date)
	}

	return cancelled, nil
}

// CheckAvailability reports whether [start, end) on courtID and date is free
// of confirmed reservations other than excludeID. It does not lock; Create
// and Update re-check under the lock.
func (r *ReservationRepo) CheckAvailability(ctx context.Context, courtID, date, start, end, excludeID string) (bool, error) {
	slot, err := parseSlot(start, end)
	if err != nil {
		return false, err
	}

	booked, err := r.FindByDate(ctx, date)
	if err != nil {
		return false, err
	}

	for _, res := range booked {
		if res.CourtID != courtID || res.ID == excludeID {
			continue
		}

		rng, err := res.TimeSlot.Range()
		if err != nil {
			continue
		}

		if rng.Overlaps(slot) {
			return false, nil
		}
	}

	return true, nil
}

// Availability returns the booked ranges per court on date.
func (r *ReservationRepo) Availability(ctx context.Context, date string) (AvailabilityView, error) {
	booked, err := r.FindByDate(ctx, date)
	if err != nil {
		return AvailabilityView{}, err
	}

	view := AvailabilityView{Date: date, Booked: make(map[string][]timerange.Range)}

	for _, res := range booked {
		rng, err := res.TimeSlot.Range()
		if err != nil {
			r.logger.Warn("skipping reservation with unreadable slot",
				slog.String("id", res.ID),
				slog.String("slot", res.TimeSlot.String()),
			)

			continue
		}

		view.Booked[res.CourtID] = append(view.Booked[res.CourtID], rng)
	}

	for court := range view.Booked {
		slices.SortFunc(view.Booked[court], func(a, b timerange.Range) int { return cmp.Compare(a.Start, b.Start) })
	}

	return view, nil
}

// FreeSlots steps through [from, until) in step-minute slots and returns the
// ones not overlapping a confirmed reservation on courtID.
func (r *ReservationRepo) FreeSlots(ctx context.Context, courtID, date, from, until string, step int) ([]timerange.Range, error) {
	window, err := parseSlot(from, until)
	if err != nil {
		return nil, err
	}

	candidates, err := timerange.Slots(window, step)
	if err != nil {
		return nil, validationError("invalid slot step %d: %v", step, err)
	}

	view, err := r.Availability(ctx, date)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(candidates, func(slot timerange.Range) bool {
		return !view.IsFree(courtID, slot)
	}), nil
}

func (r *ReservationRepo) cachedList(ctx context.Context, key string, keep func(Reservation) bool) ([]Reservation, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	err = r.revalidate()
	if err != nil {
		return nil, err
	}

	if list, ok := r.lists.Get(key); ok {
		return slices.Clone(list), nil
	}

	gen := r.lists.Generation()

	records, err := r.col.load()
	if err != nil {
		return nil, err
	}

	out := slices.DeleteFunc(records, func(res Reservation) bool { return !keep(res) })

	if key != reservationsAllKey {
		slices.SortStableFunc(out, func(a, b Reservation) int {
			return cmp.Or(cmp.Compare(a.CourtID, b.CourtID), cmp.Compare(a.TimeSlot.Start, b.TimeSlot.Start))
		})
	}

	r.lists.SetIfUnchanged(key, slices.Clone(out), gen)

	return out, nil
}

// checkConflict scans records for a confirmed reservation on courtID and
// date overlapping slot, skipping excludeID.
func (r *ReservationRepo) checkConflict(records []Reservation, courtID, date string, slot timerange.Range, excludeID string) error {
	for _, res := range records {
		if !res.Confirmed() || res.ID == excludeID || res.CourtID != courtID || res.Date != date {
			continue
		}

		rng, err := res.TimeSlot.Range()
		if err != nil {
			r.logger.Warn("skipping reservation with unreadable slot",
				slog.String("id", res.ID),
				slog.String("slot", res.TimeSlot.String()),
			)

			continue
		}

		if rng.Overlaps(slot) {
			return newError(CodeConflict, fmt.Sprintf(
				"slot conflict: %s %s %s overlaps reservation %s (%s)",
				courtID, date, slot, res.ID, rng,
			), nil)
		}
	}

	return nil
}

// revalidate empties both caches when the file changed behind them.
func (r *ReservationRepo) revalidate() error {
	return r.col.revalidate(func() {
		r.lists.Clear()
		r.byID.Clear()
	})
}

// invalidate drops every key a write to reservation id on the given dates
// can affect.
func (r *ReservationRepo) invalidate(id string, dates ...string) {
	keys := []string{reservationsAllKey}
	for _, date := range dates {
		keys = append(keys, availabilityKey(date))
	}

	r.lists.Invalidate(keys...)
	r.byID.Invalidate(reservationIDPrefix + id)
}

func (in *NewReservation) validate() (timerange.Range, error) {
	in.CourtID = strings.TrimSpace(in.CourtID)

	err := checkRequired("courtId", in.CourtID)
	if err != nil {
		return timerange.Range{}, err
	}

	err = checkDate("date", in.Date)
	if err != nil {
		return timerange.Range{}, err
	}

	slot, err := parseSlot(in.TimeSlot.Start, in.TimeSlot.End)
	if err != nil {
		return timerange.Range{}, err
	}

	err = checkOccupant(in.MemberID, in.GuestName)
	if err != nil {
		return timerange.Range{}, err
	}

	if in.PaymentAmount < 0 {
		return timerange.Range{}, validationError("paymentAmount must be >= 0")
	}

	return slot, nil
}

// apply returns res with the patch applied, whether the booking moved, and
// the effective slot.
func (p ReservationPatch) apply(res Reservation) (Reservation, bool, timerange.Range, error) {
	next := res

	if p.CourtID != nil {
		next.CourtID = strings.TrimSpace(*p.CourtID)

		err := checkRequired("courtId", next.CourtID)
		if err != nil {
			return Reservation{}, false, timerange.Range{}, err
		}
	}

	if p.Date != nil {
		err := checkDate("date", *p.Date)
		if err != nil {
			return Reservation{}, false, timerange.Range{}, err
		}

		next.Date = *p.Date
	}

	if p.TimeSlot != nil {
		next.TimeSlot = *p.TimeSlot
	}

	slot, err := parseSlot(next.TimeSlot.Start, next.TimeSlot.End)
	if err != nil {
		return Reservation{}, false, timerange.Range{}, err
	}

	next.TimeSlot = slotOf(slot)

	setTrimmed(&next.MemberID, p.MemberID)
	setTrimmed(&next.GuestName, p.GuestName)
	setTrimmed(&next.GuestPhone, p.GuestPhone)

	if p.GuestEmail != nil {
		next.GuestEmail = normalizeEmail(*p.GuestEmail)
	}

	err = checkOccupant(next.MemberID, next.GuestName)
	if err != nil {
		return Reservation{}, false, timerange.Range{}, err
	}

	setTrimmed(&next.PaymentID, p.PaymentID)
	setTrimmed(&next.PaymentStatus, p.PaymentStatus)

	if p.PaymentAmount != nil {
		if *p.PaymentAmount < 0 {
			return Reservation{}, false, timerange.Range{}, validationError("paymentAmount must be >= 0")
		}

		next.PaymentAmount = *p.PaymentAmount
	}

	if p.Notes != nil {
		next.Notes = *p.Notes
	}

	oldSlot, oldErr := res.TimeSlot.Range()
	moved := next.CourtID != res.CourtID || next.Date != res.Date || oldErr != nil || oldSlot != slot

	return next, moved, slot, nil
}

func parseSlot(start, end string) (timerange.Range, error) {
	slot, err := timerange.Parse(start, end)
	if err != nil {
		return timerange.Range{}, newError(CodeValidation, fmt.Sprintf("invalid time slot %s-%s", start, end), err)
	}

	return slot, nil
}

func slotOf(r timerange.Range) TimeSlot {
	return TimeSlot{Start: r.Start.String(), End: r.End.String()}
}

func checkOccupant(memberID, guestName string) error {
	if strings.TrimSpace(memberID) == "" && strings.TrimSpace(guestName) == "" {
		return validationError("either memberId or guestName is required")
	}

	return nil
}

func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func indexReservation(records []Reservation, id string) int {
	return slices.IndexFunc(records, func(res Reservation) bool { return res.ID == id })
}
