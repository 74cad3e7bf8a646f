package survey

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/xkilldash9x/surveyfill/api/schemas"
)

// Identifier limits.
const (
	MinIDLength         = 4
	MinFallbackIDLength = 6
	minSegmentValue     = 3
	fallbackIDLength    = 16
)

// UnknownID is what extraction degrades to when nothing better exists.
const UnknownID = "unknown_survey"

var (
	// genericIDs are tokens that name a kind of page rather than one survey.
	genericIDs = []string{"e", "r", "d", "to", "survey", "form", "Survey", "Form", UnknownID}

	// genericSegments are path segments never taken as an identifier.
	genericSegments = []string{"application", "participants", "sessions", "survey", "form", "r", "e", "d", "to"}

	// commonIDParams are query parameters that usually carry a survey identifier, in priority order.
	commonIDParams = []string{"respCampaign", "k", "id", "survey", "form", "sid", "fid", "uuid", "token", "participant", "refer"}

	// hashParams feed the derived identifier when nothing else is available.
	hashParams = []string{"k", "id", "survey"}

	alnumSegment     = regexp.MustCompile(`^[a-zA-Z0-9]{6,}$`)
	longAlnumSegment = regexp.MustCompile(`^[a-zA-Z0-9]{8,}$`)
)

// IsValidID reports whether id can name a survey: at least 4 characters and not a generic token.
func IsValidID(id string) bool {
	return len(id) >= MinIDLength && !slices.Contains(genericIDs, id)
}

// queryParam is one key/value pair of a query string, kept in order of appearance.
type queryParam struct {
	Key, Value string
}

// parsedURL holds the pieces identity extraction works on.
type parsedURL struct {
	raw    string
	u      *url.URL
	host   string
	path   []string
	params []queryParam
}

func parse(raw string) (*parsedURL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	p := &parsedURL{raw: raw, u: u, host: strings.ToLower(u.Hostname())}
	for _, part := range strings.Split(u.EscapedPath(), "/") {
		if part != "" {
			p.path = append(p.path, part)
		}
	}
	p.params = orderedQuery(u.RawQuery)
	return p, true
}

// orderedQuery decodes a raw query string without losing parameter order. Pairs that fail to
// decode are skipped.
func orderedQuery(raw string) []queryParam {
	var out []queryParam
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		out = append(out, queryParam{Key: key, Value: val})
	}
	return out
}

// get returns the first value of the named parameter.
func (p *parsedURL) get(name string) string {
	for _, q := range p.params {
		if q.Key == name {
			return q.Value
		}
	}
	return ""
}

// after returns the path segment following the first occurrence of marker.
func (p *parsedURL) after(marker string) string {
	i := slices.Index(p.path, marker)
	if i < 0 || i+1 >= len(p.path) {
		return ""
	}
	return p.path[i+1]
}

// QueryValues returns the decoded values of the query string in order.
func QueryValues(raw string) []string {
	p, ok := parse(raw)
	if !ok {
		return nil
	}
	out := make([]string, len(p.params))
	for i, q := range p.params {
		out[i] = q.Value
	}
	return out
}

// PathSegments returns the non-empty path segments of raw as they appear in the URL.
func PathSegments(raw string) []string {
	p, ok := parse(raw)
	if !ok {
		return nil
	}
	return p.path
}

// idRule extracts an identifier for URLs containing marker.
type idRule struct {
	marker  string
	extract func(p *parsedURL) string
}

var platformIDRules = []idRule{
	{"facilitymanagerplus.com", func(p *parsedURL) string {
		if k := p.get("k"); len(k) >= 8 {
			return k
		}
		return ""
	}},
	{"fieldwork.com", func(p *parsedURL) string {
		if c := p.get("respCampaign"); c != "" {
			return c
		}
		if r := p.get("refer"); len(r) >= 8 {
			return r
		}
		return ""
	}},
	{"userinterviews.com", func(p *parsedURL) string {
		if id := p.after("projects"); id != "" {
			return id
		}
		for _, part := range p.path {
			if longAlnumSegment.MatchString(part) && part != "participants" && part != "sessions" {
				return part
			}
		}
		return ""
	}},
	{"surveymonkey.com", func(p *parsedURL) string { return p.after("r") }},
	{"typeform.com", func(p *parsedURL) string { return p.after("to") }},
	{"qualtrics.com", func(p *parsedURL) string { return p.get("SID") }},
	{"google.com/forms", func(p *parsedURL) string {
		if id := p.after("d"); id != "" {
			return id
		}
		return p.after("e")
	}},
}

// ExtractID derives a stable identifier for the survey at raw. It tries a platform rule, then the
// common identifier parameters, then the first long alphanumeric path segment, and finally a
// hash of the origin, path and key parameters. The same URL always yields the same id.
func ExtractID(raw string) string {
	p, ok := parse(raw)
	if !ok {
		return UnknownID
	}
	return extractID(p)
}

func extractID(p *parsedURL) string {
	// Only the first rule whose marker appears is consulted.
	for _, rule := range platformIDRules {
		if strings.Contains(p.raw, rule.marker) {
			if id := rule.extract(p); id != "" {
				return id
			}
			break
		}
	}

	for _, name := range commonIDParams {
		if v := p.get(name); len(v) >= MinIDLength {
			return v
		}
	}

	for _, part := range p.path {
		if alnumSegment.MatchString(part) && !slices.Contains(genericSegments, strings.ToLower(part)) {
			return part
		}
	}

	return fallbackID(p)
}

func fallbackID(p *parsedURL) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(p.u.Scheme) + "://" + strings.ToLower(p.u.Host))
	if path := p.u.EscapedPath(); path != "" {
		b.WriteString(path)
	} else {
		b.WriteString("/")
	}
	for _, name := range hashParams {
		b.WriteString(p.get(name))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:fallbackIDLength]
}

// ParseSegments splits raw into the parts offered for identity selection: the host (not
// selectable), every path segment, and every query value of at least 3 characters.
func ParseSegments(raw string) []schemas.URLSegment {
	p, ok := parse(raw)
	if !ok {
		return []schemas.URLSegment{}
	}
	out := []schemas.URLSegment{{
		Type:    schemas.SegmentDomain,
		Value:   p.host,
		Display: p.host,
	}}
	for _, part := range p.path {
		out = append(out, schemas.URLSegment{
			Type:       schemas.SegmentPath,
			Value:      part,
			Display:    part,
			Selectable: true,
		})
	}
	for _, q := range p.params {
		if len(q.Value) < minSegmentValue {
			continue
		}
		out = append(out, schemas.URLSegment{
			Type:          schemas.SegmentQuery,
			Value:         q.Value,
			Display:       q.Key + ": " + q.Value,
			ParameterName: q.Key,
			Selectable:    true,
		})
	}
	return out
}
