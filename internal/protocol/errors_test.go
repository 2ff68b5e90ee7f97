package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCode(t *testing.T) {
	for _, c := range []string{ErrBadRequest, ErrNoResource, ErrInvalidTarget, ErrBlocked, ErrStale} {
		assert.Equal(t, c, NormalizeCode(c))
	}
	assert.Equal(t, ErrInternal, NormalizeCode(""))
	assert.Equal(t, ErrInternal, NormalizeCode("E_NOT_DEFINED"))
}

func TestIsTargetCode(t *testing.T) {
	assert.True(t, IsTargetCode(ErrInvalidTarget))
	assert.True(t, IsTargetCode(ErrNoResource))
	assert.False(t, IsTargetCode(ErrBlocked))
}
