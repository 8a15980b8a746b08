// Package store is the file-backed persistence layer for reservations and
// members.
//
// Each record family lives in one JSON array file under the data directory:
//
//	data/
//	  reservations.json
//	  members.json
//	  reservations.json.lock   (only while a write is in progress)
//
// Writes take the file's sidecar lock, re-read the file, validate the
// change against every record on disk, rewrite the whole file atomically,
// invalidate the affected cache keys and release the lock. Reads are
// unlocked and served from an in-process cache when possible; a read may be
// one write behind a concurrent writer, never more.
//
// Failures are returned as *[Error] with a stable [Code]. Looking up or
// cancelling something that does not exist is not an error: FindByID
// returns nil and Delete returns false.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/calvinalkan/courtbook/internal/metrics"
	"github.com/calvinalkan/courtbook/pkg/fs"
)

// Data file names inside the data directory.
const (
	ReservationsFile = "reservations.json"
	MembersFile      = "members.json"
)

// DefaultDataDir is used when [Options.DataDir] is empty.
const DefaultDataDir = "data"

// DefaultMemberNumberPrefix is used when [Options.MemberNumberPrefix] is empty.
const DefaultMemberNumberPrefix = "MEM"

const dataDirPerm = 0o750

// Options configures [Open]. Zero values select defaults.
type Options struct {
	// DataDir holds the data files. Created if missing.
	DataDir string

	// FS is the filesystem used for data and lock files. Defaults to
	// [fs.NewReal]; tests pass an [fs.Faulty].
	FS fs.FS

	// Lock controls lock wait and staleness. A zero value selects
	// [fs.DefaultLockOptions].
	Lock fs.LockOptions

	// MemberNumberPrefix is the prefix of generated member numbers
	// ("MEM" -> "MEM-0001").
	MemberNumberPrefix string

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Store owns the data directory and the repositories over it. Create one with
// [Open] and share it; the repositories are safe for concurrent use.
type Store struct {
	dir string

	Reservations *ReservationRepo
	Members      *MemberRepo
}

// ReservationRepository is what the layers above consume for reservations.
type ReservationRepository interface {
	FindAll(ctx context.Context) ([]Reservation, error)
	FindByDate(ctx context.Context, date string) ([]Reservation, error)
	FindByID(ctx context.Context, id string) (*Reservation, error)
	FindByMember(ctx context.Context, memberID string) ([]Reservation, error)
	Create(ctx context.Context, in NewReservation) (Reservation, error)
	Update(ctx context.Context, id string, patch ReservationPatch) (Reservation, error)
	Delete(ctx context.Context, id string) (bool, error)
	CheckAvailability(ctx context.Context, courtID, date, start, end, excludeID string) (bool, error)
}

// MemberRepository is what the layers above consume for members.
type MemberRepository interface {
	FindAll(ctx context.Context, filter MemberFilter) ([]Member, error)
	FindByID(ctx context.Context, id string) (*Member, error)
	FindByEmail(ctx context.Context, email string) (*Member, error)
	FindByMemberNumber(ctx context.Context, number string) (*Member, error)
	Search(ctx context.Context, query string) ([]Member, error)
	Create(ctx context.Context, in NewMember) (Member, error)
	Update(ctx context.Context, id string, patch MemberPatch) (Member, error)
	Delete(ctx context.Context, id string) (bool, error)
}

var (
	_ ReservationRepository = (*ReservationRepo)(nil)
	_ MemberRepository      = (*MemberRepo)(nil)
)

// Open prepares the data directory, creates missing data files as empty
// arrays and returns a Store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if ctx == nil {
		return nil, errors.New("open store: context is nil")
	}

	opts = opts.withDefaults()

	if err := validatePrefix(opts.MemberNumberPrefix); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	dir := filepath.Clean(opts.DataDir)

	err := opts.FS.MkdirAll(dir, dataDirPerm)
	if err != nil {
		return nil, fmt.Errorf("open store: create data dir: %w", err)
	}

	locker, err := fs.NewLocker(opts.FS, opts.Lock)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reservations := &collection[Reservation]{
		name:    "reservations",
		path:    filepath.Join(dir, ReservationsFile),
		fs:      opts.FS,
		locker:  locker,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}

	members := &collection[Member]{
		name:    "members",
		path:    filepath.Join(dir, MembersFile),
		fs:      opts.FS,
		locker:  locker,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}

	for _, ensure := range []func(context.Context) error{reservations.ensure, members.ensure} {
		err = ensure(ctx)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	return &Store{
		dir:          dir,
		Reservations: newReservationRepo(reservations, opts),
		Members:      newMemberRepo(members, opts),
	}, nil
}

// DataDir returns the directory holding the data files.
func (s *Store) DataDir() string {
	return s.dir
}

func (o Options) withDefaults() Options {
	if o.DataDir == "" {
		o.DataDir = DefaultDataDir
	}

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Lock == (fs.LockOptions{}) {
		o.Lock = fs.DefaultLockOptions()
	}

	if o.MemberNumberPrefix == "" {
		o.MemberNumberPrefix = DefaultMemberNumberPrefix
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}

func validatePrefix(prefix string) error {
	if strings.TrimSpace(prefix) != prefix || strings.ContainsAny(prefix, "- \t") {
		return fmt.Errorf("invalid member number prefix %q", prefix)
	}

	return nil
}
