package xerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))

	base := errors.New("base error")
	wrapped := Wrap(base, "context")
	require.Error(t, wrapped)
	assert.Equal(t, "context: base error", wrapped.Error())
	assert.ErrorIs(t, wrapped, base)

	assert.Equal(t, "key a/b: base error", Wrapf(base, "key %s", "a/b").Error())
	assert.NoError(t, Wrapf(nil, "key %s", "a/b"))
}

func TestCodes(t *testing.T) {
	sentinel := NewCoded(CodeInvalidEndpoint, "endpoint uuid missing")
	assert.Equal(t, "[INVALID_ENDPOINT] endpoint uuid missing", sentinel.Error())

	wrapped := Wrap(sentinel, "parse event")
	assert.Equal(t, CodeInvalidEndpoint, GetCode(wrapped))
	assert.ErrorIs(t, wrapped, sentinel)

	tests := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{"nil", nil, CodeInvalidEndpoint, false},
		{"plain", errors.New("x"), CodeInvalidEndpoint, false},
		{"match", wrapped, CodeInvalidEndpoint, true},
		{"other", wrapped, CodeMalformedPayload, false},
		{"nested", WithCode(WithCode(errors.New("x"), CodeMalformedPayload), CodeDirectoryUnavailable), CodeMalformedPayload, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasCode(tt.err, tt.code))
		})
	}

	assert.NoError(t, WithCode(nil, CodeDuplicateAnnounce))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestCollector(t *testing.T) {
	var c Collector
	assert.NoError(t, c.Err())

	e1 := errors.New("first")
	c.Collect(nil)
	c.Collect(e1)
	assert.Same(t, e1, c.Err())

	e2 := errors.New("second")
	c.Collect(e2)
	err := c.Err()
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Equal(t, "first (and 1 more errors)", err.Error())
}

func TestCombine(t *testing.T) {
	assert.NoError(t, Combine())
	assert.NoError(t, Combine(nil, nil))

	e := errors.New("only")
	assert.Same(t, e, Combine(nil, e))
	assert.Equal(t, "no errors", (&MultiError{}).Error())
}
