// internal/survey/detect.go

// Package survey decides whether a page is a survey instance and derives a stable identity for it.
// It also matches hosts against the user's domain rules.
package survey

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
)

// platform is one entry of the detection table. Any matching pattern selects it.
type platform struct {
	name       string
	patterns   []*regexp.Regexp
	confidence schemas.Confidence
}

func mustAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// platforms is checked in order against the full URL. The high-confidence entries name a specific
// survey product; the trailing medium entries only recognise survey-shaped paths and parameters.
var platforms = []platform{
	{"SurveyMonkey", mustAll(`surveymonkey\.com/r/`), schemas.ConfidenceHigh},
	{"Typeform", mustAll(`[a-zA-Z0-9-]+\.typeform\.com/to/`), schemas.ConfidenceHigh},
	{"Qualtrics", mustAll(`[a-zA-Z0-9-]+\.qualtrics\.com.*[?&]SID=`, `[a-zA-Z0-9-]+\.qualtrics\.com/jfe/form/`), schemas.ConfidenceHigh},
	{"Google Forms", mustAll(`docs\.google\.com/forms/d/`), schemas.ConfidenceHigh},
	{"Microsoft Forms", mustAll(`forms\.office\.com/.+/forms/`, `forms\.microsoft\.com/.+/forms/`), schemas.ConfidenceHigh},
	{"Wufoo", mustAll(`[a-zA-Z0-9-]+\.wufoo\.com/forms/`), schemas.ConfidenceHigh},
	{"JotForm", mustAll(`form\.jotform\.com/.+`), schemas.ConfidenceHigh},
	{"Formstack", mustAll(`[a-zA-Z0-9-]+\.formstack\.com/forms/`), schemas.ConfidenceHigh},
	{"FacilityManager+", mustAll(`facilitymanagerplus\.com.*[?&]k=`), schemas.ConfidenceHigh},
	{"UserInterviews", mustAll(`userinterviews\.com/projects/`, `userinterviews\.com/participants/`), schemas.ConfidenceHigh},
	{"Respondent.io", mustAll(`app\.respondent\.io/projects/`), schemas.ConfidenceHigh},

	{"Survey Platform", mustAll(`/survey/.+`), schemas.ConfidenceMedium},
	{"Form Platform", mustAll(`/form/.+`), schemas.ConfidenceMedium},
	{"Questionnaire", mustAll(`/questionnaire/.+`), schemas.ConfidenceMedium},
	{"Survey Form", mustAll(`[?&](?:survey|form|questionnaire|feedback)=`), schemas.ConfidenceMedium},
}

// FallbackPlatform names surveys recognised only through a configured domain.
const FallbackPlatform = "Survey Form"

var (
	loginPatterns = mustAll(
		`/login\b`, `/signin\b`, `/sign-in\b`, `/auth\b`, `/authenticate`,
		`/register\b`, `/signup\b`, `/sign-up\b`, `/oauth`, `/sso\b`,
		`login\.html`, `signin\.html`,
	)

	surveyKeywords = regexp.MustCompile(`(?i)(survey|form|questionnaire|feedback|study|research|interview|participant|application)`)
)

// IsLoginPage reports whether raw looks like an authentication page.
func IsLoginPage(raw string) bool {
	lower := strings.ToLower(raw)
	for _, re := range loginPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// Detector recognises survey pages.
type Detector struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewDetector creates a Detector stamping results with the wall clock.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger.Named("survey_detector"), now: time.Now}
}

// Detect returns the survey on the page at rawURL, or nil when the page is not one. configured
// reports whether the host has an enabled domain rule, which enables the weaker keyword heuristic.
func (d *Detector) Detect(rawURL, title string, configured bool) *schemas.SurveyInfo {
	p, ok := parse(rawURL)
	if !ok {
		return nil
	}
	if IsLoginPage(rawURL) {
		d.logger.Debug("Skipping authentication page", zap.String("url", rawURL))
		return nil
	}

	for _, pl := range platforms {
		if !pl.matches(rawURL) {
			continue
		}
		id := extractID(p)
		if !IsValidID(id) {
			d.logger.Debug("Platform matched but no usable identifier",
				zap.String("platform", pl.name), zap.String("id", id))
			return nil
		}
		return d.info(p, id, title, pl.name, pl.confidence)
	}

	if !configured {
		return nil
	}
	id := extractID(p)
	if !IsValidID(id) || len(id) < MinFallbackIDLength || !surveyKeywords.MatchString(rawURL) {
		return nil
	}
	return d.info(p, id, title, FallbackPlatform, schemas.ConfidenceMedium)
}

func (pl platform) matches(raw string) bool {
	for _, re := range pl.patterns {
		if re.MatchString(raw) {
			return true
		}
	}
	return false
}

func (d *Detector) info(p *parsedURL, id, title, name string, c schemas.Confidence) *schemas.SurveyInfo {
	d.logger.Debug("Survey detected",
		zap.String("id", id), zap.String("platform", name), zap.String("confidence", string(c)))
	return &schemas.SurveyInfo{
		ID:          id,
		Platform:    name,
		URL:         p.raw,
		Title:       title,
		Confidence:  c,
		URLSegments: ParseSegments(p.raw),
		DetectedAt:  d.now(),
	}
}
