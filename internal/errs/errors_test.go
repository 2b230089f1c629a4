package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	req := require.New(t)
	req.Equal("call_busy", Code(fmt.Errorf("offer: %w", ErrCallBusy)))
	req.Equal("invalid_payload", Code(ErrInvalidPayload))
	req.Equal("not_joined", Code(ErrNotJoined))
	req.Equal("storage_error", Code(Storage("append", errors.New("disk full"))))
	req.Equal("internal", Code(errors.New("boom")))
}

func TestStorage_Wraps_Both(t *testing.T) {
	req := require.New(t)
	cause := errors.New("disk full")
	err := Storage("append message", cause)
	req.ErrorIs(err, ErrStorage)
	req.ErrorIs(err, cause)
	req.Contains(err.Error(), "append message")
}

func TestSurfaced(t *testing.T) {
	req := require.New(t)
	req.False(Surfaced(nil))
	req.False(Surfaced(fmt.Errorf("answer: %w", ErrStaleSignal)))
	req.False(Surfaced(ErrNotFound))
	req.True(Surfaced(ErrCallBusy))
	req.True(Surfaced(Storage("load", errors.New("x"))))
}
