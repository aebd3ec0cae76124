package tool

import (
	"fmt"
	"strings"

	"deskpilot/internal/domain"
)

// RequireField returns a validation error if the string value is empty.
func RequireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: '%s' is required", domain.ErrValidation, name)
	}
	return nil
}

// RequireFields validates multiple required string fields at once.
// Arguments alternate name, value.
func RequireFields(kvs ...string) error {
	if len(kvs)%2 != 0 {
		return fmt.Errorf("RequireFields: odd number of arguments")
	}
	for i := 0; i < len(kvs); i += 2 {
		if kvs[i+1] == "" {
			return fmt.Errorf("%w: '%s' is required", domain.ErrValidation, kvs[i])
		}
	}
	return nil
}

// ValidatePositive checks that value is > 0.
func ValidatePositive(name string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%w: '%s' is required and must be > 0", domain.ErrValidation, name)
	}
	return nil
}

// ValidateEnum checks that value is one of the allowed values.
// An empty value is allowed (treated as "not set").
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: invalid %s %q (want: %s)", domain.ErrValidation, name, value, strings.Join(allowed, ", "))
}
