package fill

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/regexguard"
)

// ValidateInput checks a submitted field selection. Regex locators must also pass the guard when one
// is given.
func ValidateInput(in schemas.FieldInput, guard *regexguard.Guard) error {
	if len(in.Locators) == 0 {
		return apperr.NewValidationError("locators", "at least one locator is required")
	}
	if in.Value == nil {
		return apperr.NewValidationError("value", "missing")
	}
	if in.RecommendedLocatorIndex < 0 || in.RecommendedLocatorIndex >= len(in.Locators) {
		return apperr.NewValidationError("recommendedLocatorIndex", fmt.Sprintf("out of range [0,%d)", len(in.Locators)))
	}
	for i, l := range in.Locators {
		if err := validateLocator(l, guard); err != nil {
			return fmt.Errorf("locator %d: %w", i, err)
		}
	}
	return nil
}

func validateLocator(l schemas.LocatorCandidate, guard *regexguard.Guard) error {
	if !l.Kind.Valid() {
		return apperr.NewValidationError("kind", fmt.Sprintf("unknown locator kind %q", l.Kind))
	}
	if strings.TrimSpace(l.Pattern) == "" {
		return apperr.NewValidationError("pattern", "empty")
	}
	if l.Kind.IsRegex() && guard != nil {
		if v := guard.Validate(l.Pattern); !v.Valid() {
			return apperr.NewValidationError("pattern", strings.Join(v.Errors, "; "))
		}
	}
	return nil
}

// NewRecord turns a validated input into a stored field, assigning an id when none was given.
func NewRecord(in schemas.FieldInput, now time.Time) schemas.FieldRecord {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	value := ""
	if in.Value != nil {
		value = *in.Value
	}
	return schemas.FieldRecord{
		ID:                      id,
		Locators:                append([]schemas.LocatorCandidate(nil), in.Locators...),
		RecommendedLocatorIndex: in.RecommendedLocatorIndex,
		Value:                   value,
		Label:                   in.Label,
		Domain:                  in.Domain,
		CreatedAt:               now,
	}
}

// Usable reports whether a stored field can be attempted at all.
func Usable(f schemas.FieldRecord) bool {
	if f.ID == "" || len(f.Locators) == 0 {
		return false
	}
	for _, l := range f.Locators {
		if l.Kind.Valid() && l.Pattern != "" {
			return true
		}
	}
	return false
}
