package schemas

import (
	"strings"
	"time"
)

// -- Locator Schemas --

// LocatorKind names the strategy used to find a DOM element.
type LocatorKind string

const (
	LocatorExactID     LocatorKind = "exact-id"
	LocatorExactName   LocatorKind = "exact-name"
	LocatorCSS         LocatorKind = "css"
	LocatorXPath       LocatorKind = "xpath"
	LocatorPlaceholder LocatorKind = "placeholder"
	LocatorAriaLabel   LocatorKind = "aria-label"
	LocatorLabelText   LocatorKind = "label-text"
	LocatorDataAttr    LocatorKind = "data-attr"

	LocatorRegexLabel       LocatorKind = "regex-label"
	LocatorRegexID          LocatorKind = "regex-id"
	LocatorRegexName        LocatorKind = "regex-name"
	LocatorRegexClass       LocatorKind = "regex-class"
	LocatorRegexPlaceholder LocatorKind = "regex-placeholder"
	LocatorRegexContent     LocatorKind = "regex-content"
	LocatorRegexValue       LocatorKind = "regex-value"
)

var knownLocatorKinds = map[LocatorKind]struct{}{
	LocatorExactID: {}, LocatorExactName: {}, LocatorCSS: {}, LocatorXPath: {},
	LocatorPlaceholder: {}, LocatorAriaLabel: {}, LocatorLabelText: {}, LocatorDataAttr: {},
	LocatorRegexLabel: {}, LocatorRegexID: {}, LocatorRegexName: {}, LocatorRegexClass: {},
	LocatorRegexPlaceholder: {}, LocatorRegexContent: {}, LocatorRegexValue: {},
}

// IsRegex reports whether the kind carries a regular expression rather than a literal.
func (k LocatorKind) IsRegex() bool {
	return strings.HasPrefix(string(k), "regex-")
}

// Valid reports whether k is one of the supported locator kinds.
func (k LocatorKind) Valid() bool {
	_, ok := knownLocatorKinds[k]
	return ok
}

// LocatorCandidate is one way of finding an element. Priority 1 is the most literal.
type LocatorCandidate struct {
	Kind     LocatorKind `json:"kind"`
	Pattern  string      `json:"pattern"`
	Priority int         `json:"priority"`
	// Label is a short human description shown when the candidate is offered.
	Label string `json:"label,omitempty"`
}

// -- Field Schemas --

// FieldPerformance aggregates the outcome of fill attempts for one field.
type FieldPerformance struct {
	SuccessCount     int     `json:"successCount"`
	FailureCount     int     `json:"failureCount"`
	AverageLatencyMs float64 `json:"averageLatency"`
}

// FieldRecord is a field the user selected once, with everything needed to find and fill it again.
type FieldRecord struct {
	ID                      string             `json:"id"`
	Locators                []LocatorCandidate `json:"locators"`
	RecommendedLocatorIndex int                `json:"recommendedLocatorIndex"`
	// Value is ready to apply. Toggles are stored as "true" or "false".
	Value       string           `json:"value"`
	Label       string           `json:"label,omitempty"`
	Domain      string           `json:"domain,omitempty"`
	UsageCount  int              `json:"usageCount"`
	LastUsedAt  *time.Time       `json:"lastUsed,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	Performance FieldPerformance `json:"performance"`
}

// OrderedLocators returns the recommended locator first, followed by the rest in their stored order.
func (f FieldRecord) OrderedLocators() []LocatorCandidate {
	if len(f.Locators) == 0 {
		return nil
	}
	idx := f.RecommendedLocatorIndex
	if idx < 0 || idx >= len(f.Locators) {
		return append([]LocatorCandidate(nil), f.Locators...)
	}
	out := make([]LocatorCandidate, 0, len(f.Locators))
	out = append(out, f.Locators[idx])
	for i, l := range f.Locators {
		if i != idx {
			out = append(out, l)
		}
	}
	return out
}

// DomainRule configures autofill for hosts matching DomainPattern.
type DomainRule struct {
	DomainPattern string `json:"domain"`
	Enabled       bool   `json:"enabled"`
	FillAllFields bool   `json:"fillAllFields"`
	// SpecificFieldIDs is the allow-list used when FillAllFields is false.
	SpecificFieldIDs []string `json:"specificFields,omitempty"`
	DelayMs          int      `json:"delay,omitempty"`
}

// -- Fill Schemas --

// FillStatus is the outcome of a single field fill.
type FillStatus string

const (
	FillSuccess FillStatus = "success"
	FillError   FillStatus = "error"
	FillSkipped FillStatus = "skipped"
)

// FillResult reports what happened to one field during a fill batch.
type FillResult struct {
	ID      string      `json:"id"`
	Status  FillStatus  `json:"status"`
	Message string      `json:"message,omitempty"`
	Kind    LocatorKind `json:"selectorType,omitempty"`
	Pattern string      `json:"selector,omitempty"`
	Label   string      `json:"label,omitempty"`
	// ElementType is "tag" or "tag:type" of the element that was filled.
	ElementType string `json:"elementType,omitempty"`
	LatencyMs   int64  `json:"latency,omitempty"`
}

// FillPerformance summarizes a fill batch.
type FillPerformance struct {
	TotalTimeMs int64   `json:"totalTime"`
	SuccessRate float64 `json:"successRate"`
}

// AutoFillLog is an entry in the bounded autofill history.
type AutoFillLog struct {
	Timestamp   time.Time       `json:"timestamp"`
	Domain      string          `json:"domain"`
	Results     []FillResult    `json:"results"`
	Performance FillPerformance `json:"performance"`
}

// -- Learned Pattern Schemas --

// PatternContext records where a learned pattern succeeded.
type PatternContext struct {
	Label       string    `json:"label"`
	ElementType string    `json:"elementType"`
	Timestamp   time.Time `json:"timestamp"`
	Domain      string    `json:"domain"`
}

// LearnedPattern tracks the cross-site track record of one regex locator.
type LearnedPattern struct {
	Kind         LocatorKind      `json:"type"`
	Pattern      string           `json:"pattern"`
	SuccessCount int              `json:"successCount"`
	FailureCount int              `json:"failureCount"`
	Domains      []string         `json:"domains"`
	Contexts     []PatternContext `json:"contexts"`
	Confidence   float64          `json:"confidence"`
}

// LearnedPatternKey is the storage key for a learned pattern.
func LearnedPatternKey(kind LocatorKind, pattern string) string {
	return string(kind) + ":" + pattern
}

// -- Ranking Schemas --

// Suggestion is a ranked locator with the reasoning shown to the user.
type Suggestion struct {
	Locator    LocatorCandidate `json:"locator"`
	Confidence int              `json:"confidence"`
	Reason     string           `json:"reason"`
	Stability  string           `json:"stability"`
	// MultiDomain estimates how well the locator carries over to other sites.
	MultiDomain string `json:"multiDomainPotential"`
	Learned     bool   `json:"isLearned,omitempty"`
	LearnedFrom int    `json:"learnedFrom,omitempty"`
}

// FieldAnalysis summarizes what the ranking engine found on the element.
type FieldAnalysis struct {
	HasLabel           bool   `json:"hasLabel"`
	HasPlaceholder     bool   `json:"hasPlaceholder"`
	HasSurroundingText bool   `json:"hasSurroundingText"`
	FieldType          string `json:"fieldType"`
	RegexViability     int    `json:"regexViability"`
}

// Recommendation is the ranking result for one element. Recommended is nil only when the element
// offered nothing to locate it by.
type Recommendation struct {
	Recommended  *Suggestion   `json:"recommendedSelector"`
	Alternatives []Suggestion  `json:"alternatives"`
	Analysis     FieldAnalysis `json:"analysis"`
}

// DetectedField is a populated field found on a page, with everything needed to store it.
type DetectedField struct {
	XPath          string             `json:"xpath"`
	Label          string             `json:"label"`
	Value          string             `json:"value"`
	ElementType    string             `json:"elementType"`
	Candidates     []LocatorCandidate `json:"allSelectors"`
	Recommendation Recommendation     `json:"suggestion"`
}

// -- Options --

// Options are the user preferences persisted under the "options" key.
type Options struct {
	NotifyOnAutoFill     bool   `json:"notifyOnAutoFill"`
	DebugMode            bool   `json:"debugMode"`
	IframeSupportEnabled bool   `json:"iframeSupportEnabled"`
	SelectorColor        string `json:"selectorColor"`
	AutoFillDelayMs      int    `json:"autoFillDelay"`
}

// DefaultOptions returns the preferences used before the user changes anything.
func DefaultOptions() Options {
	return Options{
		NotifyOnAutoFill: true,
		SelectorColor:    "#ea4335",
		AutoFillDelayMs:  1000,
	}
}
