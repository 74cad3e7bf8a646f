package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassificationThroughWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("persist survey: %w", NewStorageError("set", "completedSurveys", cause))

	assert.True(t, IsStorage(err))
	assert.False(t, IsNotFound(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `storage set "completedSurveys": disk full`)
}

func TestTimeoutErrorMessages(t *testing.T) {
	byClock := &TimeoutError{Op: "regex scan", Budget: 5 * time.Second, Err: context.DeadlineExceeded}
	assert.Equal(t, "regex scan timed out after 5s", byClock.Error())
	assert.ErrorIs(t, byClock, context.DeadlineExceeded)

	byCount := &TimeoutError{Op: "regex scan", Limit: 1000}
	assert.Equal(t, "regex scan aborted after examining 1000 elements", byCount.Error())
	assert.True(t, IsTimeout(fmt.Errorf("wrapped: %w", byCount)))
}

func TestSimpleErrors(t *testing.T) {
	assert.Equal(t, `survey not found: "abc"`, NewNotFoundError("survey", "abc").Error())
	assert.Equal(t, "invalid pattern: too long", NewValidationError("pattern", "too long").Error())
	assert.Equal(t, "validation failed: empty", NewValidationError("", "empty").Error())
	assert.True(t, IsConflict(NewConflictError("domain x.com", "already configured")))
	assert.True(t, IsValidation(NewValidationError("field", "missing value")))
}
