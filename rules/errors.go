package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRule is returned by rule constructors for out-of-domain parameters
	ErrBadRule = errors.New("bad rule")

	// errInvalidDate marks a civil date that does not exist in a given year.
	// Evaluators skip such candidates.
	errInvalidDate = errors.New("invalid date")
)

// BadRuleError describes why a rule could not be constructed
type BadRuleError struct {
	Kind   Kind
	Reason string
}

func (e *BadRuleError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrBadRule, e.Kind, e.Reason)
}

// Is makes errors.Is(err, ErrBadRule) hold for every BadRuleError.
func (e *BadRuleError) Is(target error) bool {
	return target == ErrBadRule
}

func badRule(kind Kind, format string, args ...any) error {
	return &BadRuleError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
