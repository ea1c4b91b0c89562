package wire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRendezvousRegisterResolve(t *testing.T) {
	r := NewMemoryRendezvous(time.Minute)
	ctx := context.Background()

	code, err := r.Register(ctx, "203.0.113.5:4433", []byte("session-key"))
	require.NoError(t, err)
	require.NotEmpty(t, code)

	endpoint, key, err := r.Resolve(ctx, code)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.5:4433", endpoint)
	require.Equal(t, []byte("session-key"), key)
}

func TestMemoryRendezvousUnknownCode(t *testing.T) {
	r := NewMemoryRendezvous(time.Minute)
	_, _, err := r.Resolve(context.Background(), "NOSUCHCODE")
	require.Error(t, err)
}

func TestMemoryRendezvousCloseInvalidatesCode(t *testing.T) {
	r := NewMemoryRendezvous(time.Minute)
	ctx := context.Background()
	code, err := r.Register(ctx, "endpoint", []byte("key"))
	require.NoError(t, err)

	require.NoError(t, r.Close(ctx, code))
	_, _, err = r.Resolve(ctx, code)
	require.Error(t, err)
}

func TestMemoryRendezvousExpiry(t *testing.T) {
	r := NewMemoryRendezvous(time.Millisecond)
	ctx := context.Background()
	code, err := r.Register(ctx, "endpoint", []byte("key"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, _, err = r.Resolve(ctx, code)
	require.ErrorContains(t, err, "expired")
}

func TestNewJoinCodeIsUnique(t *testing.T) {
	a, err := NewJoinCode()
	require.NoError(t, err)
	b, err := NewJoinCode()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
