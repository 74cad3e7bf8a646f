// internal/fill/safety.go

// Package fill applies stored field values to a page and records how each attempt went.
package fill

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

// MessageForeignOwner is reported for fields another extension manages.
const MessageForeignOwner = "Field managed by another password manager"

// MessageUnavailable is reported when no safe, visible element was found for a field.
const MessageUnavailable = "Element not found, not safe, or not visible"

var (
	dangerousTags = map[string]bool{"button": true, "script": true, "style": true, "meta": true, "link": true}

	safeInputTypes = map[string]bool{
		"text": true, "email": true, "tel": true, "number": true, "date": true, "time": true,
		"url": true, "search": true, "checkbox": true, "radio": true,
	}

	// buttonWords flags controls that look like navigation or submission.
	buttonWords = regexp.MustCompile(`(?i)\b(submit|send|next|continue|finish|complete|save|cancel|close|back|skip|button|btn)\b`)
)

// CheckSafe returns nil when el may be written. Elements another extension owns yield a
// ConflictError; every other refusal is a ValidationError naming the reason.
func CheckSafe(el *dom.Element) error {
	if el == nil {
		return apperr.NewNotFoundError("element", "")
	}
	if el.OwnedByOtherExtension() {
		return apperr.NewConflictError("element", MessageForeignOwner)
	}
	tag := el.Tag()
	typ := el.Type()

	if typ == "password" {
		return apperr.NewValidationError("element", "password input")
	}
	if strings.Contains(strings.ToLower(el.Attr("autocomplete")), "password") {
		return apperr.NewValidationError("element", "credential autocomplete")
	}
	if dangerousTags[tag] {
		return apperr.NewValidationError("element", "dangerous tag "+tag)
	}
	if strings.EqualFold(el.Attr("role"), "button") || el.HasAttr("onclick") {
		return apperr.NewValidationError("element", "button-like control")
	}

	switch tag {
	case "input":
		if !safeInputTypes[typ] {
			return apperr.NewValidationError("element", "unsupported input type "+typ)
		}
	case "select", "textarea":
	default:
		if !el.IsContentEditable() {
			return apperr.NewValidationError("element", "not a form control")
		}
	}

	if !el.IsToggle() && buttonWords.MatchString(vetoText(el)) {
		return apperr.NewValidationError("element", "looks like a navigation control")
	}
	return nil
}

// vetoText is the markup the button-word check looks at. Select and textarea text is user data or
// option labels, so only their attributes count.
func vetoText(el *dom.Element) string {
	parts := []string{strings.Join(el.Classes(), " "), el.ID()}
	switch el.Tag() {
	case "select", "textarea":
	default:
		parts = append(parts, el.Text())
	}
	return strings.Join(parts, " ")
}

// Skippable reports whether a CheckSafe error means the field belongs to someone else rather than
// being unusable.
func Skippable(err error) bool {
	return apperr.IsConflict(err)
}
