package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir(), 30*time.Minute)
	require.NoError(t, err)
	return r
}

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	l, err := r.Acquire(ctx, "video.mp4", "alice", "editing", 0)
	require.NoError(t, err)
	require.Equal(t, "alice", l.OwnerID)

	require.NoError(t, r.Release(ctx, "video.mp4", "alice"))
	require.NoError(t, r.Check("video.mp4", "bob")) // released, no conflict
}

func TestAcquireSameOwnerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.Acquire(ctx, "f.bin", "alice", "", 0)
	require.NoError(t, err)
	_, err = r.Acquire(ctx, "f.bin", "alice", "re-acquire", 0)
	require.NoError(t, err)
}

// TestLockExclusivity is spec §8 property 10: two concurrent Acquire calls
// from distinct owners on the same path result in exactly one success.
func TestLockExclusivity(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	const n = 20
	var successes int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := ownerName(i)
			if _, err := r.Acquire(ctx, "shared.mp4", owner, "", 0); err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), successes)
}

func ownerName(i int) string {
	return string(rune('a' + i))
}

func TestAcquireConflictReportsHolderIdentity(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.Acquire(ctx, "video.mp4", "alice", "editing", time.Hour)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, "video.mp4", "bob", "", 0)
	var conflict *ErrConflict
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "alice", conflict.Owner)
}

func TestExpiredLockCanBeReacquired(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	_, err := r.Acquire(ctx, "video.mp4", "alice", "", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = r.Acquire(ctx, "video.mp4", "bob", "", time.Hour)
	require.NoError(t, err)
}

func TestReleaseByNonOwnerFails(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	_, err := r.Acquire(ctx, "video.mp4", "alice", "", 0)
	require.NoError(t, err)

	err = r.Release(ctx, "video.mp4", "bob")
	var conflict *ErrConflict
	require.ErrorAs(t, err, &conflict)
}

func TestForceReleaseIgnoresOwner(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	_, err := r.Acquire(ctx, "video.mp4", "alice", "", 0)
	require.NoError(t, err)

	require.NoError(t, r.ForceRelease(ctx, "video.mp4"))
	require.NoError(t, r.Check("video.mp4", "bob"))
}

func TestListFiltersExpiredLocks(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	_, err := r.Acquire(ctx, "a.bin", "alice", "", time.Hour)
	require.NoError(t, err)
	_, err = r.Acquire(ctx, "b.bin", "bob", "", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	locks := r.List(nil)
	require.Len(t, locks, 1)
	require.Equal(t, "a.bin", locks[0].Path)
}

func TestRegistryReloadsPersistedLocks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r1, err := Open(dir, time.Hour)
	require.NoError(t, err)
	_, err = r1.Acquire(ctx, "video.mp4", "alice", "editing", 0)
	require.NoError(t, err)

	r2, err := Open(dir, time.Hour)
	require.NoError(t, err)
	err = r2.Check("video.mp4", "bob")
	var conflict *ErrConflict
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "alice", conflict.Owner)
}
