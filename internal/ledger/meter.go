package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxNameLength is the longest permitted meter name (after trimming).
	MaxNameLength = 40

	// MinFactor and MaxFactor bound the accrual rate multiplier.
	MinFactor = -10.0
	MaxFactor = 10.0

	// FactorEpsilon is the tolerance used when comparing meter factors.
	// Two meters whose factors differ by less than this are considered
	// duplicates, since events reference their meter by factor.
	FactorEpsilon = 0.001
)

// Meter is a named rate multiplier that can be activated to accrue time.
// Positive factors add to the balance, negative factors subtract, and a
// zero factor is permitted but contributes nothing.
type Meter struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Factor       float64   `json:"factor"`
	DisplayOrder int       `json:"displayOrder"`
}

// NewMeter creates a meter with a fresh ID and a trimmed name.
// The caller is responsible for validation and display ordering.
func NewMeter(name string, factor float64) *Meter {
	return &Meter{
		ID:     uuid.New(),
		Name:   strings.TrimSpace(name),
		Factor: factor,
	}
}

// Validate checks the meter's field values in isolation.
// Factor uniqueness is a registry-level invariant checked by the Ledger.
func (m *Meter) Validate() error {
	if err := validateMeterName(m.Name); err != nil {
		return err
	}
	return validateFactor(m.Factor)
}

// SameFactor reports whether f matches this meter's factor within epsilon.
func (m *Meter) SameFactor(f float64) bool {
	return math.Abs(m.Factor-f) < FactorEpsilon
}

// FormatFactorName renders a factor as a display name, e.g. "+1.5x" or "-1x".
func FormatFactorName(factor float64) string {
	sign := ""
	if factor >= 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%gx", sign, factor)
}

func validateMeterName(name string) error {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < 1 || len(trimmed) > MaxNameLength {
		return &ValidationError{
			Field:  "name",
			Reason: fmt.Sprintf("meter name must be between 1 and %d characters", MaxNameLength),
		}
	}
	return nil
}

func validateFactor(factor float64) error {
	if factor < MinFactor || factor > MaxFactor {
		return &ValidationError{
			Field:  "factor",
			Reason: fmt.Sprintf("factor must be between %g and %g (got %g)", MinFactor, MaxFactor, factor),
		}
	}
	return nil
}
