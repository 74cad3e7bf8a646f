// api/schemas/messages.go
package schemas

// -- Messaging Schemas --
// Every request the extension can send is one of the concrete types below. The bridge decodes the
// command name into the matching variant and dispatches on its type.

// Command names a request variant on the wire.
type Command string

const (
	CmdFieldSelected       Command = "fieldSelected"
	CmdCheckFieldSelection Command = "checkFieldSelection"
	CmdStoreFieldSelection Command = "storeFieldSelection"
	CmdDeleteField         Command = "deleteField"
	CmdListFields          Command = "listFields"

	CmdUpsertDomainRule    Command = "upsertDomainRule"
	CmdDeleteDomainRule    Command = "deleteDomainRule"
	CmdListDomainRules     Command = "listDomainRules"
	CmdCheckDomainAutoFill Command = "checkDomainAutoFill"

	CmdGetSurveyStats             Command = "getSurveyStats"
	CmdGetSurveyQueue             Command = "getSurveyQueue"
	CmdConfirmSurveyInProgress    Command = "confirmSurveyInProgress"
	CmdGetInProgressSurveys       Command = "getInProgressSurveys"
	CmdGetCompletedSurveys        Command = "getCompletedSurveys"
	CmdMarkSurveyCompleted        Command = "markSurveyCompleted"
	CmdRemoveSurveyFromInProgress Command = "removeSurveyFromInProgress"
	CmdDismissSurveyFromQueue     Command = "dismissSurveyFromQueue"
	CmdGetCurrentTabSurvey        Command = "getCurrentTabSurvey"
	CmdMarkCurrentSurveyCompleted Command = "markCurrentSurveyCompleted"
	CmdDeleteSurvey               Command = "deleteSurvey"
	CmdBulkDeleteSurveys          Command = "bulkDeleteSurveys"
	CmdClearSurveyHistory         Command = "clearSurveyHistory"
	CmdCleanupInvalidSurveys      Command = "cleanupInvalidSurveys"
	CmdTestSurveyDetection        Command = "testSurveyDetection"

	CmdTabUpdated   Command = "tabUpdated"
	CmdTabActivated Command = "tabActivated"
	CmdTabRemoved   Command = "tabRemoved"

	CmdDetectFields          Command = "detectFields"
	CmdGenerateCandidates    Command = "generateCandidates"
	CmdFillFields            Command = "fillFields"
	CmdTestField             Command = "testField"
	CmdTestRegexPattern      Command = "testRegexPattern"
	CmdHighlightRegexMatches Command = "highlightRegexMatches"

	CmdGetOptions          Command = "getOptions"
	CmdSetOptions          Command = "setOptions"
	CmdEnableDebugMode     Command = "enableDebugMode"
	CmdToggleIframeSupport Command = "toggleIframeSupport"
)

// Request is implemented by every request variant.
type Request interface {
	Command() Command
}

// FieldInput is a field selection as submitted by the extension. Value is a pointer so a missing
// value can be told apart from an empty one.
type FieldInput struct {
	ID       string             `json:"id,omitempty"`
	Locators []LocatorCandidate `json:"locators"`
	// RecommendedLocatorIndex defaults to 0.
	RecommendedLocatorIndex int     `json:"recommendedLocatorIndex,omitempty"`
	Value                   *string `json:"value"`
	Label                   string  `json:"label,omitempty"`
	Domain                  string  `json:"domain,omitempty"`
}

// --- Field Commands ---

// FieldSelectedRequest carries a field picked in the page overlay. It is held until the user confirms it.
type FieldSelectedRequest struct {
	TabID int        `json:"tabId"`
	Field FieldInput `json:"field"`
}

type CheckFieldSelectionRequest struct{}

// StoreFieldSelectionRequest persists a field. An empty ID gets a generated one.
type StoreFieldSelectionRequest struct {
	Field FieldInput `json:"field"`
}

type DeleteFieldRequest struct {
	ID string `json:"id"`
}

type ListFieldsRequest struct{}

// --- Domain Rules ---

type UpsertDomainRuleRequest struct {
	Rule DomainRule `json:"rule"`
	// Replace allows overwriting an existing rule with the same pattern.
	Replace bool `json:"replace,omitempty"`
}

type DeleteDomainRuleRequest struct {
	Domain string `json:"domain"`
}

type ListDomainRulesRequest struct{}

// CheckDomainAutoFillRequest asks which fields, if any, would be filled on URL.
type CheckDomainAutoFillRequest struct {
	URL string `json:"url"`
}

// --- Survey Tracking ---

type GetSurveyStatsRequest struct{}

type GetSurveyQueueRequest struct{}

// ConfirmSurveyInProgressRequest moves the tab's detected survey into the in-progress list.
// SelectedSegment overrides the detected identifier.
type ConfirmSurveyInProgressRequest struct {
	TabID           int         `json:"tabId"`
	SelectedSegment *URLSegment `json:"selectedSegment,omitempty"`
}

type GetInProgressSurveysRequest struct{}

type GetCompletedSurveysRequest struct{}

type MarkSurveyCompletedRequest struct {
	SurveyID string `json:"surveyId"`
}

type RemoveSurveyFromInProgressRequest struct {
	SurveyID string `json:"surveyId"`
}

type DismissSurveyFromQueueRequest struct {
	TabID int `json:"tabId"`
}

type GetCurrentTabSurveyRequest struct {
	TabID int `json:"tabId"`
}

type MarkCurrentSurveyCompletedRequest struct {
	TabID int `json:"tabId"`
}

// DeleteSurveyRequest removes one survey from the list named by Status.
type DeleteSurveyRequest struct {
	SurveyID string       `json:"surveyId"`
	Status   SurveyStatus `json:"status"`
}

// BulkDeleteSurveysRequest is DeleteSurveyRequest for several ids.
type BulkDeleteSurveysRequest struct {
	SurveyIDs []string     `json:"surveyIds"`
	Status    SurveyStatus `json:"status"`
}

type ClearSurveyHistoryRequest struct{}

// CleanupInvalidSurveysRequest drops stored surveys that no longer pass validation.
type CleanupInvalidSurveysRequest struct{}

// TestSurveyDetectionRequest runs detection on a URL without touching any stored state.
type TestSurveyDetectionRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// TabUpdatedRequest reports a navigation or load state change. HTML, when present, replaces the
// tab's page snapshot.
type TabUpdatedRequest struct {
	TabID  int    `json:"tabId"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Active bool   `json:"active"`
	HTML   string `json:"html,omitempty"`
}

// Tab events.

type TabActivatedRequest struct {
	TabID int `json:"tabId"`
}

type TabRemovedRequest struct {
	TabID int `json:"tabId"`
}

// PageRef points a page operation at either an inline snapshot or a registered tab.
type PageRef struct {
	TabID int    `json:"tabId,omitempty"`
	HTML  string `json:"html,omitempty"`
}

type DetectFieldsRequest struct {
	PageRef
}

type GenerateCandidatesRequest struct {
	PageRef
	// XPath selects the element to describe.
	XPath string `json:"xpath"`
}

type FillFieldsRequest struct {
	PageRef
	// FieldIDs restricts the fill to these stored fields; empty means all stored fields.
	FieldIDs []string `json:"fieldIds,omitempty"`
	Domain   string   `json:"domain,omitempty"`
}

type TestFieldRequest struct {
	PageRef
	Locator LocatorCandidate `json:"locator"`
}

type TestRegexPatternRequest struct {
	PageRef
	Pattern string      `json:"pattern"`
	Kind    LocatorKind `json:"selectorType"`
}

type HighlightRegexMatchesRequest struct {
	PageRef
	Pattern string      `json:"pattern"`
	Kind    LocatorKind `json:"selectorType"`
}

type GetOptionsRequest struct{}

type SetOptionsRequest struct {
	Options Options `json:"options"`
}

type EnableDebugModeRequest struct {
	Enabled bool `json:"enabled"`
}

type ToggleIframeSupportRequest struct {
	Enabled bool `json:"enabled"`
}

// Command bindings.
func (FieldSelectedRequest) Command() Command              { return CmdFieldSelected }
func (CheckFieldSelectionRequest) Command() Command        { return CmdCheckFieldSelection }
func (StoreFieldSelectionRequest) Command() Command        { return CmdStoreFieldSelection }
func (DeleteFieldRequest) Command() Command                { return CmdDeleteField }
func (ListFieldsRequest) Command() Command                 { return CmdListFields }
func (UpsertDomainRuleRequest) Command() Command           { return CmdUpsertDomainRule }
func (DeleteDomainRuleRequest) Command() Command           { return CmdDeleteDomainRule }
func (ListDomainRulesRequest) Command() Command            { return CmdListDomainRules }
func (CheckDomainAutoFillRequest) Command() Command        { return CmdCheckDomainAutoFill }
func (GetSurveyStatsRequest) Command() Command             { return CmdGetSurveyStats }
func (GetSurveyQueueRequest) Command() Command             { return CmdGetSurveyQueue }
func (ConfirmSurveyInProgressRequest) Command() Command    { return CmdConfirmSurveyInProgress }
func (GetInProgressSurveysRequest) Command() Command       { return CmdGetInProgressSurveys }
func (GetCompletedSurveysRequest) Command() Command        { return CmdGetCompletedSurveys }
func (MarkSurveyCompletedRequest) Command() Command        { return CmdMarkSurveyCompleted }
func (RemoveSurveyFromInProgressRequest) Command() Command { return CmdRemoveSurveyFromInProgress }
func (DismissSurveyFromQueueRequest) Command() Command     { return CmdDismissSurveyFromQueue }
func (GetCurrentTabSurveyRequest) Command() Command        { return CmdGetCurrentTabSurvey }
func (MarkCurrentSurveyCompletedRequest) Command() Command { return CmdMarkCurrentSurveyCompleted }
func (DeleteSurveyRequest) Command() Command               { return CmdDeleteSurvey }
func (BulkDeleteSurveysRequest) Command() Command          { return CmdBulkDeleteSurveys }
func (ClearSurveyHistoryRequest) Command() Command         { return CmdClearSurveyHistory }
func (CleanupInvalidSurveysRequest) Command() Command      { return CmdCleanupInvalidSurveys }
func (TestSurveyDetectionRequest) Command() Command        { return CmdTestSurveyDetection }
func (TabUpdatedRequest) Command() Command                 { return CmdTabUpdated }
func (TabActivatedRequest) Command() Command               { return CmdTabActivated }
func (TabRemovedRequest) Command() Command                 { return CmdTabRemoved }
func (DetectFieldsRequest) Command() Command               { return CmdDetectFields }
func (GenerateCandidatesRequest) Command() Command         { return CmdGenerateCandidates }
func (FillFieldsRequest) Command() Command                 { return CmdFillFields }
func (TestFieldRequest) Command() Command                  { return CmdTestField }
func (TestRegexPatternRequest) Command() Command           { return CmdTestRegexPattern }
func (HighlightRegexMatchesRequest) Command() Command      { return CmdHighlightRegexMatches }
func (GetOptionsRequest) Command() Command                 { return CmdGetOptions }
func (SetOptionsRequest) Command() Command                 { return CmdSetOptions }
func (EnableDebugModeRequest) Command() Command            { return CmdEnableDebugMode }
func (ToggleIframeSupportRequest) Command() Command        { return CmdToggleIframeSupport }

// NewRequest returns a zero value of the variant registered for cmd, ready to be decoded into.
func NewRequest(cmd Command) (Request, bool) {
	f, ok := requestFactories[cmd]
	if !ok {
		return nil, false
	}
	return f(), true
}

var requestFactories = map[Command]func() Request{
	CmdFieldSelected:              func() Request { return &FieldSelectedRequest{} },
	CmdCheckFieldSelection:        func() Request { return &CheckFieldSelectionRequest{} },
	CmdStoreFieldSelection:        func() Request { return &StoreFieldSelectionRequest{} },
	CmdDeleteField:                func() Request { return &DeleteFieldRequest{} },
	CmdListFields:                 func() Request { return &ListFieldsRequest{} },
	CmdUpsertDomainRule:           func() Request { return &UpsertDomainRuleRequest{} },
	CmdDeleteDomainRule:           func() Request { return &DeleteDomainRuleRequest{} },
	CmdListDomainRules:            func() Request { return &ListDomainRulesRequest{} },
	CmdCheckDomainAutoFill:        func() Request { return &CheckDomainAutoFillRequest{} },
	CmdGetSurveyStats:             func() Request { return &GetSurveyStatsRequest{} },
	CmdGetSurveyQueue:             func() Request { return &GetSurveyQueueRequest{} },
	CmdConfirmSurveyInProgress:    func() Request { return &ConfirmSurveyInProgressRequest{} },
	CmdGetInProgressSurveys:       func() Request { return &GetInProgressSurveysRequest{} },
	CmdGetCompletedSurveys:        func() Request { return &GetCompletedSurveysRequest{} },
	CmdMarkSurveyCompleted:        func() Request { return &MarkSurveyCompletedRequest{} },
	CmdRemoveSurveyFromInProgress: func() Request { return &RemoveSurveyFromInProgressRequest{} },
	CmdDismissSurveyFromQueue:     func() Request { return &DismissSurveyFromQueueRequest{} },
	CmdGetCurrentTabSurvey:        func() Request { return &GetCurrentTabSurveyRequest{} },
	CmdMarkCurrentSurveyCompleted: func() Request { return &MarkCurrentSurveyCompletedRequest{} },
	CmdDeleteSurvey:               func() Request { return &DeleteSurveyRequest{} },
	CmdBulkDeleteSurveys:          func() Request { return &BulkDeleteSurveysRequest{} },
	CmdClearSurveyHistory:         func() Request { return &ClearSurveyHistoryRequest{} },
	CmdCleanupInvalidSurveys:      func() Request { return &CleanupInvalidSurveysRequest{} },
	CmdTestSurveyDetection:        func() Request { return &TestSurveyDetectionRequest{} },
	CmdTabUpdated:                 func() Request { return &TabUpdatedRequest{} },
	CmdTabActivated:               func() Request { return &TabActivatedRequest{} },
	CmdTabRemoved:                 func() Request { return &TabRemovedRequest{} },
	CmdDetectFields:               func() Request { return &DetectFieldsRequest{} },
	CmdGenerateCandidates:         func() Request { return &GenerateCandidatesRequest{} },
	CmdFillFields:                 func() Request { return &FillFieldsRequest{} },
	CmdTestField:                  func() Request { return &TestFieldRequest{} },
	CmdTestRegexPattern:           func() Request { return &TestRegexPatternRequest{} },
	CmdHighlightRegexMatches:      func() Request { return &HighlightRegexMatchesRequest{} },
	CmdGetOptions:                 func() Request { return &GetOptionsRequest{} },
	CmdSetOptions:                 func() Request { return &SetOptionsRequest{} },
	CmdEnableDebugMode:            func() Request { return &EnableDebugModeRequest{} },
	CmdToggleIframeSupport:        func() Request { return &ToggleIframeSupportRequest{} },
}
