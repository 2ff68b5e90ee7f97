package agent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionError_IsMatchesSentinelForCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", targetNotFound("mine", "no block at %s", "1, 2, 3"))
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.NotErrorIs(t, err, ErrNoSession)
	assert.Equal(t, CodeTargetNotFound, CodeOf(err))
	assert.Equal(t, "wrapped: no block at 1, 2, 3", err.Error())

	cause := errors.New("path blocked")
	d := delegated("move", cause)
	assert.ErrorIs(t, d, ErrDelegationFailure)
	assert.ErrorIs(t, d, cause)
	assert.Equal(t, "path blocked", d.Error())

	assert.Equal(t, "another action is in progress", inProgress("move", "").Error())
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.ErrorIs(t, sessionLost("craft"), ErrSessionUnavailable)
	assert.ErrorIs(t, noSession("craft"), ErrNoSession)
}
