package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetails_DoesNotMutateSentinel(t *testing.T) {
	first := ErrInvalidCron.WithDetails(map[string]interface{}{"schedule_cron": "bad cron"})
	second := ErrInvalidCron.WithDetails(map[string]interface{}{"schedule_cron": "also-bad"})

	assert.Equal(t, "bad cron", first.Details["schedule_cron"], "earlier error keeps its own details")
	assert.Equal(t, "also-bad", second.Details["schedule_cron"])
	assert.Nil(t, ErrInvalidCron.Details, "sentinel stays untouched")
}

func TestWithCause_ReturnsCopy(t *testing.T) {
	cause := fmt.Errorf("underlying")
	wrapped := ErrAlertNotFound.WithCause(cause)

	require.NotSame(t, ErrAlertNotFound, wrapped)
	assert.Nil(t, ErrAlertNotFound.Cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestIs_MatchesAcrossCopies(t *testing.T) {
	withDetails := ErrInvalidCron.WithDetails(map[string]interface{}{"schedule_cron": "x"})
	assert.ErrorIs(t, withDetails, ErrInvalidCron)

	// Distinct sentinels never match each other.
	assert.NotErrorIs(t, ErrAlertNotFound, ErrBaselineNotFound)
	assert.NotErrorIs(t, withDetails, ErrAlertNotFound)
}

func TestIsType(t *testing.T) {
	wrapped := Wrap(ErrInvalidCron.WithDetails(map[string]interface{}{"schedule_cron": "x"}), "activating job")

	assert.True(t, IsType(wrapped, ErrorTypeConfiguration))
	assert.False(t, IsType(wrapped, ErrorTypeValidation))
	assert.False(t, IsType(stderrors.New("plain"), ErrorTypeConfiguration))
}
