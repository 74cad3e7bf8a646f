package lifecycle

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/dedup"
)

const noticeTimeLayout = "Jan 2, 2006 at 3:04 PM"

func formatWhen(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "N/A"
	}
	return t.Local().Format(noticeTimeLayout)
}

// KnownSurveyMessage is the low-key notice for a survey that was seen before.
func KnownSurveyMessage(m *dedup.Match) string {
	if m.Status == schemas.StatusCompleted {
		return fmt.Sprintf("Survey %q already completed on %s", m.Record.ID, formatWhen(m.Record.CompletedAt))
	}
	return fmt.Sprintf("Survey %q in progress (started %s)", m.Record.ID, formatWhen(m.Record.StartedAt))
}

func (c *Coordinator) knownNotice(tabID int, m *dedup.Match) schemas.Notification {
	return schemas.Notification{
		TabID:      tabID,
		Kind:       schemas.NoticeInfo,
		Message:    KnownSurveyMessage(m),
		DurationMs: int(c.cfg.NoticeDuration.Milliseconds()),
		CreatedAt:  c.now(),
	}
}

func surveyPrompt(info *schemas.SurveyInfo) string {
	return fmt.Sprintf("New %s survey detected. Track it as in progress?", info.Platform)
}
