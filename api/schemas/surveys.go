// api/schemas/surveys.go
package schemas

import "time"

// SurveyStatus is the persisted lifecycle state of a survey record.
type SurveyStatus string

const (
	StatusInProgress SurveyStatus = "in-progress"
	StatusCompleted  SurveyStatus = "completed"
)

// Confidence grades how sure detection is that a page is a survey.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// SegmentType distinguishes the parts of a URL offered for identity selection.
type SegmentType string

const (
	SegmentDomain SegmentType = "domain"
	SegmentPath   SegmentType = "path"
	SegmentQuery  SegmentType = "query"
)

// URLSegment is one piece of a survey URL the user may choose as its identity.
type URLSegment struct {
	Type          SegmentType `json:"type"`
	Value         string      `json:"value"`
	Display       string      `json:"display"`
	ParameterName string      `json:"parameterName,omitempty"`
	Selectable    bool        `json:"selectable"`
}

// SurveyInfo is the result of detecting a survey on a page.
type SurveyInfo struct {
	ID          string       `json:"id"`
	Platform    string       `json:"platform"`
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	Confidence  Confidence   `json:"confidence"`
	URLSegments []URLSegment `json:"urlSegments"`
	DetectedAt  time.Time    `json:"detectedAt"`
}

// SurveyRecord is a persisted survey, either in progress or completed.
type SurveyRecord struct {
	ID                  string       `json:"id"`
	URL                 string       `json:"url"`
	Title               string       `json:"title"`
	Platform            string       `json:"platform"`
	URLSegments         []URLSegment `json:"urlSegments,omitempty"`
	Status              SurveyStatus `json:"status"`
	StartedAt           *time.Time   `json:"startedAt,omitempty"`
	CompletedAt         *time.Time   `json:"completedAt,omitempty"`
	LastActiveAt        *time.Time   `json:"lastActiveAt,omitempty"`
	LastEncountered     *time.Time   `json:"lastEncountered,omitempty"`
	TimeSpentMs         int64        `json:"timeSpent,omitempty"`
	DuplicateEncounters int          `json:"duplicateEncounters"`
	Autofilled          bool         `json:"autofilled"`
	FieldsFilledCount   int          `json:"fieldsFilledCount"`
	FieldResults        []FillResult `json:"fieldResults,omitempty"`
	TabID               int          `json:"tabId,omitempty"`
}

// TabSurveySession is the transient per-tab state of a detected survey.
type TabSurveySession struct {
	TabID             int          `json:"tabId"`
	SurveyInfo        SurveyInfo   `json:"surveyInfo"`
	Autofilled        bool         `json:"autofilled"`
	AutofilledAt      *time.Time   `json:"autofilledAt,omitempty"`
	FieldsFilledCount int          `json:"fieldsFilledCount"`
	FieldResults      []FillResult `json:"fieldResults,omitempty"`
	Known             bool         `json:"known"`
	Timestamp         time.Time    `json:"timestamp"`
}

// QueueEntry is a survey waiting for the user to confirm it as in progress.
type QueueEntry struct {
	TabID             int          `json:"tabId"`
	SurveyInfo        SurveyInfo   `json:"surveyInfo"`
	Autofilled        bool         `json:"autofilled"`
	FieldsFilledCount int          `json:"fieldsFilledCount"`
	FieldResults      []FillResult `json:"fieldResults,omitempty"`
	QueuedAt          time.Time    `json:"queuedAt"`
}

// NotificationKind grades a user-visible notice.
type NotificationKind string

const (
	NoticeSuccess NotificationKind = "success"
	NoticeInfo    NotificationKind = "info"
	NoticeWarning NotificationKind = "warning"
	NoticeError   NotificationKind = "error"
	// NoticeSurvey prompts the user to confirm a new survey.
	NoticeSurvey NotificationKind = "survey"
)

// Notification is a short transient notice shown inside a tab.
type Notification struct {
	TabID      int              `json:"tabId"`
	Kind       NotificationKind `json:"type"`
	Message    string           `json:"message"`
	DurationMs int              `json:"duration"`
	CreatedAt  time.Time        `json:"createdAt"`
	// Survey is set on the prompt asking the user to confirm a newly detected survey.
	Survey *QueueEntry `json:"surveyData,omitempty"`
}

// SurveyStats is the summary shown on the popup.
type SurveyStats struct {
	TotalCompleted    int            `json:"totalCompleted"`
	InProgress        int            `json:"inProgress"`
	RecentSurveys     []SurveyRecord `json:"recentSurveys"`
	DuplicatesAvoided int            `json:"duplicatesAvoided"`
}
