package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvinalkan/courtbook/internal/store"
	"github.com/calvinalkan/courtbook/pkg/fs"
)

const testDate = "2026-02-10"

func testLockOptions() fs.LockOptions {
	return fs.LockOptions{
		Timeout:      5 * time.Second,
		StaleAfter:   time.Minute,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	}
}

// openStore opens a store on a fresh temp dir. mod may adjust options.
func openStore(t *testing.T, mod ...func(*store.Options)) *store.Store {
	t.Helper()

	opts := store.Options{
		DataDir: filepath.Join(t.TempDir(), "data"),
		Lock:    testLockOptions(),
	}

	for _, m := range mod {
		m(&opts)
	}

	s, err := store.Open(t.Context(), opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	return s
}

func withDataDir(dir string) func(*store.Options) {
	return func(o *store.Options) { o.DataDir = dir }
}

func withFS(fsys fs.FS) func(*store.Options) {
	return func(o *store.Options) { o.FS = fsys }
}

func slot(start, end string) store.TimeSlot {
	return store.TimeSlot{Start: start, End: end}
}

func memberBooking(court, start, end string) store.NewReservation {
	return store.NewReservation{
		CourtID:  court,
		Date:     testDate,
		TimeSlot: slot(start, end),
		MemberID: "member-1",
	}
}

func newMember(first, email string) store.NewMember {
	return store.NewMember{
		FirstName: first,
		LastName:  "Tester",
		Email:     email,
	}
}

func mustCreateReservation(t *testing.T, s *store.Store, in store.NewReservation) store.Reservation {
	t.Helper()

	res, err := s.Reservations.Create(t.Context(), in)
	if err != nil {
		t.Fatalf("create reservation %s %s: %v", in.CourtID, in.TimeSlot, err)
	}

	return res
}

func mustCreateMember(t *testing.T, s *store.Store, in store.NewMember) store.Member {
	t.Helper()

	m, err := s.Members.Create(t.Context(), in)
	if err != nil {
		t.Fatalf("create member %s: %v", in.Email, err)
	}

	return m
}

func requireCode(t *testing.T, err error, want *store.Error) {
	t.Helper()

	if err == nil {
		t.Fatalf("err=nil, want %s", want.Code)
	}

	if !errors.Is(err, want) {
		t.Fatalf("err=%v (code %q), want code %s", err, store.CodeOf(err), want.Code)
	}
}

func readDataFile(t *testing.T, s *store.Store, name string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(s.DataDir(), name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}

	return string(data)
}

func ptr[T any](v T) *T {
	return &v
}
