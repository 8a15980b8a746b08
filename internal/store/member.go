package store

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/courtbook/internal/cache"
	"github.com/calvinalkan/courtbook/internal/metrics"
)

// Role is a member's role in the club.
type Role string

// Member roles.
const (
	RolePlayer Role = "player"
	RoleCoach  Role = "coach"
	RoleParent Role = "parent"
	RoleAdmin  Role = "admin"
)

// Roles lists every valid role.
var Roles = []Role{RolePlayer, RoleCoach, RoleParent, RoleAdmin}

func (r Role) valid() bool {
	return slices.Contains(Roles, r)
}

// EmergencyContact is an optional part of a member profile.
type EmergencyContact struct {
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// Member is one club member. Email and MemberNumber are unique across all
// members, active or not.
type Member struct {
	ID                   string           `json:"id"`
	MemberNumber         string           `json:"memberNumber"`
	FirstName            string           `json:"firstName"`
	LastName             string           `json:"lastName"`
	Email                string           `json:"email"`
	Phone                string           `json:"phone,omitempty"`
	IsActive             bool             `json:"isActive"`
	Role                 Role             `json:"role"`
	PenaltyCancellations int              `json:"penaltyCancellations"`
	CreatedAt            time.Time        `json:"createdAt"`
	LastModified         time.Time        `json:"lastModified"`
	DateOfBirth          string           `json:"dateOfBirth,omitempty"`
	Address              string           `json:"address,omitempty"`
	EmergencyContact     EmergencyContact `json:"emergencyContact,omitzero"`
	Notes                string           `json:"notes,omitempty"`
}

// FullName returns "First Last".
func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// NewMember is the input to [MemberRepo.Create]. An empty MemberNumber is
// generated; a nil IsActive defaults to true and an empty Role to player.
type NewMember struct {
	MemberNumber     string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	IsActive         *bool
	Role             Role
	DateOfBirth      string
	Address          string
	EmergencyContact EmergencyContact
	Notes            string
}

// MemberPatch changes the non-nil fields of a member.
type MemberPatch struct {
	MemberNumber     *string
	FirstName        *string
	LastName         *string
	Email            *string
	Phone            *string
	IsActive         *bool
	Role             *Role
	DateOfBirth      *string
	Address          *string
	EmergencyContact *EmergencyContact
	Notes            *string
}

// MemberStatus selects members by their active flag.
type MemberStatus string

// Member status filters. The zero value means all.
const (
	MemberStatusAll      MemberStatus = "all"
	MemberStatusActive   MemberStatus = "active"
	MemberStatusInactive MemberStatus = "inactive"
)

// MemberFilter narrows [MemberRepo.FindAll].
type MemberFilter struct {
	Status MemberStatus
}

func (f MemberFilter) status() (MemberStatus, error) {
	switch f.Status {
	case "", MemberStatusAll:
		return MemberStatusAll, nil
	case MemberStatusActive, MemberStatusInactive:
		return f.Status, nil
	default:
		return "", validationError("unknown member status %q (want all, active or inactive)", f.Status)
	}
}

func (s MemberStatus) matches(m Member) bool {
	switch s {
	case MemberStatusActive:
		return m.IsActive
	case MemberStatusInactive:
		return !m.IsActive
	case MemberStatusAll:
		return true
	default:
		return true
	}
}

const (
	memberIDPrefix     = "member:id:"
	memberEmailPrefix  = "member:email:"
	memberNumberPrefix = "member:number:"
	membersKeyPrefix   = "members:"
)

func membersKey(s MemberStatus) string { return membersKeyPrefix + string(s) }

// MemberRepo stores members and enforces email and member number
// uniqueness.
type MemberRepo struct {
	col     *collection[Member]
	lists   *cache.Cache[[]Member]
	records *cache.Cache[Member]
	prefix  string
	number  *regexp.Regexp
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func newMemberRepo(col *collection[Member], opts Options) *MemberRepo {
	prefix := normalizeNumber(opts.MemberNumberPrefix)

	return &MemberRepo{
		col:     col,
		lists:   cache.New[[]Member]("member_lists", opts.Metrics),
		records: cache.New[Member]("members", opts.Metrics),
		prefix:  prefix,
		number:  regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-(\d+)$`),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// FindAll returns the members matching filter in file order.
func (r *MemberRepo) FindAll(ctx context.Context, filter MemberFilter) ([]Member, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	status, err := filter.status()
	if err != nil {
		return nil, err
	}

	err = r.revalidate()
	if err != nil {
		return nil, err
	}

	key := membersKey(status)

	if list, ok := r.lists.Get(key); ok {
		return slices.Clone(list), nil
	}

	gen := r.lists.Generation()

	records, err := r.col.load()
	if err != nil {
		return nil, err
	}

	out := slices.DeleteFunc(records, func(m Member) bool { return !status.matches(m) })
	r.lists.SetIfUnchanged(key, slices.Clone(out), gen)

	return out, nil
}

// FindByID returns the member or nil when there is none.
func (r *MemberRepo) FindByID(ctx context.Context, id string) (*Member, error) {
	return r.findOne(ctx, memberIDPrefix+id, func(m Member) bool { return m.ID == id })
}

// FindByEmail looks a member up by email, ignoring case and surrounding
// space. Returns nil when there is none.
func (r *MemberRepo) FindByEmail(ctx context.Context, email string) (*Member, error) {
	email = normalizeEmail(email)

	return r.findOne(ctx, memberEmailPrefix+email, func(m Member) bool { return m.Email == email })
}

// FindByMemberNumber returns the member with number, or nil.
func (r *MemberRepo) FindByMemberNumber(ctx context.Context, number string) (*Member, error) {
	number = normalizeNumber(number)

	return r.findOne(ctx, memberNumberPrefix+number, func(m Member) bool { return normalizeNumber(m.MemberNumber) == number })
}

// Search returns members whose name, email, phone or member number contains
// query, ignoring case. Results are not cached. A blank query matches
// nothing.
func (r *MemberRepo) Search(ctx context.Context, query string) ([]Member, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []Member{}, nil
	}

	records, err := r.col.load()
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(records, func(m Member) bool {
		for _, field := range []string{m.FirstName, m.LastName, m.FullName(), m.Email, m.Phone, m.MemberNumber} {
			if strings.Contains(strings.ToLower(field), query) {
				return false
			}
		}

		return true
	}), nil
}

// Create adds a member. The email is stored trimmed and lower-cased. Fails
// with [ErrDuplicateEmail] or [ErrDuplicateMemberNumber] when another member
// (active or not) already uses them.
func (r *MemberRepo) Create(ctx context.Context, in NewMember) (Member, error) {
	err := in.validate()
	if err != nil {
		observeRejection(r.logger, r.metrics, "member.create", err)

		return Member{}, err
	}

	var created Member

	err = r.col.mutate(ctx, func(records []Member) ([]Member, bool, error) {
		err := checkEmailFree(records, in.Email, "")
		if err != nil {
			return nil, false, err
		}

		number := in.MemberNumber
		if number == "" {
			number = r.nextNumber(records)
		}

		err = checkNumberFree(records, number, "")
		if err != nil {
			return nil, false, err
		}

		id, err := newID()
		if err != nil {
			return nil, false, err
		}

		now := r.now().UTC()
		created = Member{
			ID:               id,
			MemberNumber:     number,
			FirstName:        in.FirstName,
			LastName:         in.LastName,
			Email:            in.Email,
			Phone:            in.Phone,
			IsActive:         in.IsActive == nil || *in.IsActive,
			Role:             in.Role,
			CreatedAt:        now,
			LastModified:     now,
			DateOfBirth:      in.DateOfBirth,
			Address:          in.Address,
			EmergencyContact: in.EmergencyContact,
			Notes:            in.Notes,
		}

		return append(records, created), true, nil
	})
	if err != nil {
		observeRejection(r.logger, r.metrics, "member.create", err)

		return Member{}, err
	}

	r.invalidate(created, created)

	return created, nil
}

// Update applies patch to member id. Email and member number changes are
// re-checked for uniqueness against every other member.
func (r *MemberRepo) Update(ctx context.Context, id string, patch MemberPatch) (Member, error) {
	before, after, err := r.modify(ctx, "member.update", id, func(m Member) (Member, error) {
		return patch.apply(m)
	})
	if err != nil {
		return Member{}, err
	}

	r.invalidate(before, after)

	return after, nil
}

// Delete deactivates member id. The record, its email and its number stay
// reserved. Reports false when the member does not exist or is already
// inactive.
func (r *MemberRepo) Delete(ctx context.Context, id string) (bool, error) {
	var (
		before, after Member
		deleted       bool
	)

	err := r.col.mutate(ctx, func(records []Member) ([]Member, bool, error) {
		i := indexMember(records, id)
		if i < 0 || !records[i].IsActive {
			return records, false, nil
		}

		before = records[i]
		records[i].IsActive = false
		records[i].LastModified = r.now().UTC()
		after = records[i]
		deleted = true

		return records, true, nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		r.invalidate(before, after)
	}

	return deleted, nil
}

// AddPenalty adds delta (which may be negative) to the member's cancellation
// penalty counter. The counter never drops below zero.
func (r *MemberRepo) AddPenalty(ctx context.Context, id string, delta int) (Member, error) {
	before, after, err := r.modify(ctx, "member.penalty", id, func(m Member) (Member, error) {
		m.PenaltyCancellations = max(0, m.PenaltyCancellations+delta)

		return m, nil
	})
	if err != nil {
		return Member{}, err
	}

	r.invalidate(before, after)

	return after, nil
}

// modify locates member id under the lock, applies change, re-checks
// uniqueness and persists.
func (r *MemberRepo) modify(ctx context.Context, op, id string, change func(Member) (Member, error)) (Member, Member, error) {
	var before, after Member

	err := r.col.mutate(ctx, func(records []Member) ([]Member, bool, error) {
		i := indexMember(records, id)
		if i < 0 {
			return nil, false, newError(CodeNotFound, "member "+id+" not found", nil)
		}

		before = records[i]

		next, err := change(before)
		if err != nil {
			return nil, false, err
		}

		if next.Email != before.Email {
			err = checkEmailFree(records, next.Email, id)
			if err != nil {
				return nil, false, err
			}
		}

		if normalizeNumber(next.MemberNumber) != normalizeNumber(before.MemberNumber) {
			err = checkNumberFree(records, next.MemberNumber, id)
			if err != nil {
				return nil, false, err
			}
		}

		next.ID = before.ID
		next.CreatedAt = before.CreatedAt
		next.LastModified = r.now().UTC()
		records[i] = next
		after = next

		return records, true, nil
	})
	if err != nil {
		observeRejection(r.logger, r.metrics, op, err)

		return Member{}, Member{}, err
	}

	return before, after, nil
}

// invalidate drops every key a change from before to after can affect:
// lookups by the old and new email and number, the id, and every list
// bucket. Lists hold whole records, so any change is visible in them.
func (r *MemberRepo) invalidate(before, after Member) {
	r.records.Invalidate(
		memberIDPrefix+after.ID,
		memberEmailPrefix+before.Email,
		memberEmailPrefix+after.Email,
		memberNumberPrefix+normalizeNumber(before.MemberNumber),
		memberNumberPrefix+normalizeNumber(after.MemberNumber),
	)
	r.lists.Invalidate(
		membersKey(MemberStatusAll),
		membersKey(MemberStatusActive),
		membersKey(MemberStatusInactive),
	)
}

// revalidate empties both caches when the file changed behind them.
func (r *MemberRepo) revalidate() error {
	return r.col.revalidate(func() {
		r.lists.Clear()
		r.records.Clear()
	})
}

func (r *MemberRepo) findOne(ctx context.Context, key string, match func(Member) bool) (*Member, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	err = r.revalidate()
	if err != nil {
		return nil, err
	}

	if m, ok := r.records.Get(key); ok {
		return &m, nil
	}

	gen := r.records.Generation()

	records, err := r.col.load()
	if err != nil {
		return nil, err
	}

	i := slices.IndexFunc(records, match)
	if i < 0 {
		return nil, nil
	}

	m := records[i]
	r.records.SetIfUnchanged(key, m, gen)

	return &m, nil
}

// nextNumber returns PREFIX-NNNN one past the highest existing sequence for
// the configured prefix. Numbers with other prefixes are ignored.
func (r *MemberRepo) nextNumber(records []Member) string {
	highest := 0

	for _, m := range records {
		match := r.number.FindStringSubmatch(normalizeNumber(m.MemberNumber))
		if match == nil {
			continue
		}

		seq, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}

		highest = max(highest, seq)
	}

	return fmt.Sprintf("%s-%04d", r.prefix, highest+1)
}

func checkEmailFree(records []Member, email, selfID string) error {
	for _, m := range records {
		if m.ID != selfID && normalizeEmail(m.Email) == email {
			return newError(CodeDuplicateEmail, fmt.Sprintf("email %s already registered to member %s", email, m.MemberNumber), nil)
		}
	}

	return nil
}

func checkNumberFree(records []Member, number, selfID string) error {
	want := normalizeNumber(number)

	for _, m := range records {
		if m.ID != selfID && normalizeNumber(m.MemberNumber) == want {
			return newError(CodeDuplicateMemberNumber, fmt.Sprintf("member number %s already taken", number), nil)
		}
	}

	return nil
}

// normalizeNumber makes member number comparison ignore case and
// surrounding space.
func normalizeNumber(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}

func (in *NewMember) validate() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.MemberNumber = normalizeNumber(in.MemberNumber)

	if in.Role == "" {
		in.Role = RolePlayer
	}

	return validateMember(Member{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Role:         in.Role,
		DateOfBirth:  in.DateOfBirth,
		MemberNumber: in.MemberNumber,
	}, in.MemberNumber != "")
}

func (p MemberPatch) apply(m Member) (Member, error) {
	if p.MemberNumber != nil {
		m.MemberNumber = normalizeNumber(*p.MemberNumber)
	}

	setTrimmed(&m.FirstName, p.FirstName)
	setTrimmed(&m.LastName, p.LastName)
	setTrimmed(&m.Phone, p.Phone)
	setTrimmed(&m.DateOfBirth, p.DateOfBirth)
	setTrimmed(&m.Address, p.Address)

	if p.Email != nil {
		m.Email = normalizeEmail(*p.Email)
	}

	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}

	if p.Role != nil {
		m.Role = *p.Role
	}

	if p.EmergencyContact != nil {
		m.EmergencyContact = *p.EmergencyContact
	}

	if p.Notes != nil {
		m.Notes = *p.Notes
	}

	err := validateMember(m, p.MemberNumber != nil)
	if err != nil {
		return Member{}, err
	}

	return m, nil
}

func validateMember(m Member, checkNumber bool) error {
	err := cmp.Or(
		checkRequired("firstName", m.FirstName),
		checkRequired("lastName", m.LastName),
		checkEmail("email", m.Email),
	)
	if err != nil {
		return err
	}

	if !m.Role.valid() {
		return validationError("unknown role %q", m.Role)
	}

	if m.DateOfBirth != "" {
		err = checkDate("dateOfBirth", m.DateOfBirth)
		if err != nil {
			return err
		}
	}

	if !checkNumber {
		return nil
	}

	if m.MemberNumber == "" {
		return validationError("memberNumber must not be empty")
	}

	if !memberNumberFormat.MatchString(m.MemberNumber) {
		return validationError("memberNumber %q must look like PREFIX-0001", m.MemberNumber)
	}

	return nil
}

// memberNumberFormat accepts any prefix, so numbers issued under an earlier
// prefix stay valid after the configured one changes.
var memberNumberFormat = regexp.MustCompile(`^[^\s-]+-\d{4,}$`)

func indexMember(records []Member, id string) int {
	return slices.IndexFunc(records, func(m Member) bool { return m.ID == id })
}
