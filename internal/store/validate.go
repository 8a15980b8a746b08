package store

import (
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/calvinalkan/courtbook/internal/metrics"
)

// DateLayout is the on-disk and input format of calendar dates.
const DateLayout = "2006-01-02"

func validationError(format string, args ...any) *Error {
	return newError(CodeValidation, fmt.Sprintf(format, args...), nil)
}

// checkDate accepts exactly YYYY-MM-DD with a real calendar day.
func checkDate(field, value string) error {
	t, err := time.Parse(DateLayout, value)
	if err != nil || t.Format(DateLayout) != value {
		return validationError("%s must be YYYY-MM-DD, got %q", field, value)
	}

	return nil
}

func checkRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return validationError("%s is required", field)
	}

	return nil
}

// normalizeEmail trims and lower-cases an address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkEmail(field, email string) error {
	if email == "" {
		return validationError("%s is required", field)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationError("%s %q is not a valid address", field, email)
	}

	return nil
}

// observeRejection logs and counts a write refused by an invariant or by
// validation. Lock failures are counted where the lock is taken.
func observeRejection(logger *slog.Logger, m *metrics.Metrics, op string, err error) {
	code := CodeOf(err)

	switch code {
	case CodeConflict, CodeDuplicateEmail, CodeDuplicateMemberNumber, CodeValidation, CodeNotFound:
		m.ObserveRejected(string(code))
		logger.Info("write rejected",
			slog.String("op", op),
			slog.String("code", string(code)),
			slog.String("reason", err.Error()),
		)
	case CodeLock, "":
	}
}
