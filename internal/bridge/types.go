// Package bridge exposes the engine to the browser extension: a command endpoint carrying the
// request verbs, and a websocket that pushes notifications into tabs.
package bridge

import (
	"context"
	"errors"
	"net/http"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
)

// CommandRequest is the envelope every verb arrives in.
type CommandRequest struct {
	Command schemas.Command `json:"command"`
	// TabID, when set, is applied to request variants that address a tab and left no tab id in params.
	TabID  *int            `json:"tabId,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CommandResponse is the envelope every verb answers with.
type CommandResponse struct {
	Status string `json:"status"` // "success" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Decode turns an envelope into its request variant.
func (c CommandRequest) Decode() (schemas.Request, error) {
	req, ok := schemas.NewRequest(c.Command)
	if !ok {
		return nil, apperr.NewValidationError("command", "unknown command "+string(c.Command))
	}
	if len(c.Params) > 0 && string(c.Params) != "null" {
		if err := json.Unmarshal(c.Params, req); err != nil {
			return nil, apperr.NewValidationError("params", err.Error())
		}
	}
	if c.TabID != nil {
		applyTabID(req, *c.TabID)
	}
	return req, nil
}

func applyTabID(req schemas.Request, id int) {
	set := func(dst *int) {
		if *dst == 0 {
			*dst = id
		}
	}
	switch r := req.(type) {
	case *schemas.FieldSelectedRequest:
		set(&r.TabID)
	case *schemas.ConfirmSurveyInProgressRequest:
		set(&r.TabID)
	case *schemas.DismissSurveyFromQueueRequest:
		set(&r.TabID)
	case *schemas.GetCurrentTabSurveyRequest:
		set(&r.TabID)
	case *schemas.MarkCurrentSurveyCompletedRequest:
		set(&r.TabID)
	case *schemas.TabUpdatedRequest:
		set(&r.TabID)
	case *schemas.TabActivatedRequest:
		set(&r.TabID)
	case *schemas.TabRemovedRequest:
		set(&r.TabID)
	case *schemas.DetectFieldsRequest:
		set(&r.TabID)
	case *schemas.GenerateCandidatesRequest:
		set(&r.TabID)
	case *schemas.FillFieldsRequest:
		set(&r.TabID)
	case *schemas.TestFieldRequest:
		set(&r.TabID)
	case *schemas.TestRegexPatternRequest:
		set(&r.TabID)
	case *schemas.HighlightRegexMatchesRequest:
		set(&r.TabID)
	}
}

// StatusCode maps an error to the HTTP status it is reported with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsConflict(err):
		return http.StatusConflict
	case apperr.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
