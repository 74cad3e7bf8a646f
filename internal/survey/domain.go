// internal/survey/domain.go
package survey

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/xkilldash9x/surveyfill/api/schemas"
)

// MatchDomain reports whether host is covered by pattern. A pattern matches its exact host, any
// subdomain of it, and with a "*." prefix any host ending in the remainder. A pattern that is a
// subdomain of host also matches. Suffixes only match on label boundaries, so "pi" never matches
// "opinari.fieldwork.com".
func MatchDomain(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	host = strings.ToLower(strings.TrimSpace(host))
	if pattern == "" || host == "" {
		return false
	}
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(host, pattern[1:]) {
		return true
	}
	return strings.HasSuffix(host, "."+pattern) || strings.HasSuffix(pattern, "."+host)
}

// Hostname returns the lower-cased host of raw, or "" when raw is not an absolute URL.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// FindRule returns the first rule whose pattern matches host.
func FindRule(rules []schemas.DomainRule, host string) (schemas.DomainRule, bool) {
	for _, r := range rules {
		if MatchDomain(r.DomainPattern, host) {
			return r, true
		}
	}
	return schemas.DomainRule{}, false
}

// FieldsToFill applies a rule's selection to the stored fields. With FillAllFields every field is
// returned; otherwise only fields named in SpecificFieldIDs, and an empty list selects nothing.
func FieldsToFill(rule schemas.DomainRule, fields []schemas.FieldRecord) []schemas.FieldRecord {
	if rule.FillAllFields {
		return slices.Clone(fields)
	}
	out := []schemas.FieldRecord{}
	for _, f := range fields {
		if slices.Contains(rule.SpecificFieldIDs, f.ID) {
			out = append(out, f)
		}
	}
	return out
}

// AutoFillDecision is the outcome of checking a URL against the domain rules.
type AutoFillDecision struct {
	ShouldFill bool                  `json:"shouldFill"`
	Configured bool                  `json:"isConfiguredDomain"`
	Rule       *schemas.DomainRule   `json:"domainConfig,omitempty"`
	Fields     []schemas.FieldRecord `json:"fields"`
	Delay      time.Duration         `json:"-"`
	DelayMs    int64                 `json:"delay"`
}

// CheckDomainAutoFill decides whether rawURL should be autofilled and with which fields. Only an
// enabled first-matching rule configures the domain. defaultDelay applies when the rule sets none.
func CheckDomainAutoFill(rawURL string, rules []schemas.DomainRule, fields []schemas.FieldRecord, defaultDelay time.Duration) AutoFillDecision {
	d := AutoFillDecision{Fields: []schemas.FieldRecord{}, Delay: defaultDelay}
	d.DelayMs = defaultDelay.Milliseconds()

	rule, ok := FindRule(rules, Hostname(rawURL))
	if !ok || !rule.Enabled {
		return d
	}
	d.Configured = true
	d.Rule = &rule
	if rule.DelayMs > 0 {
		d.Delay = time.Duration(rule.DelayMs) * time.Millisecond
		d.DelayMs = int64(rule.DelayMs)
	}
	d.Fields = FieldsToFill(rule, fields)
	d.ShouldFill = len(d.Fields) > 0
	return d
}
