package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSentinel = stderrors.New("sentinel")

func TestWrapKeepsInnerCode(t *testing.T) {
	inner := ConfigInvalid("paths.root is required")
	wrapped := Wrap(inner, "failed to load configuration")

	assert.Equal(t, CodeConfigInvalid, GetCode(wrapped))
	assert.Contains(t, wrapped.Error(), "paths.root is required")
}

func TestWrapPlainErrorIsInternal(t *testing.T) {
	wrapped := Wrapf(errSentinel, "loading %s", "sub-01")

	assert.Equal(t, CodeInternalError, GetCode(wrapped))
	assert.True(t, stderrors.Is(wrapped, errSentinel))
	assert.Equal(t, "loading sub-01: sentinel", wrapped.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
	assert.Nil(t, Wrapf(nil, "ignored %d", 1))
	assert.Nil(t, WithCode(CodeNotFound, nil))
}

func TestDataIntegrityUnwraps(t *testing.T) {
	err := DataIntegrity("cluster 3", fmt.Errorf("wrapped: %w", errSentinel))

	assert.Equal(t, CodeDataIntegrity, GetCode(err))
	assert.True(t, stderrors.Is(err, errSentinel))
}

func TestGetCodeUnknown(t *testing.T) {
	assert.Equal(t, "UNKNOWN", GetCode(errSentinel))
}
