package peerroll

import (
	"path/filepath"
	"testing"

	"github.com/rkt/rkt/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLockAcquireRelease(t *testing.T) {
	dir := tmpDir(t)
	h1 := &hostLock{dir: dir, l: testLogger}
	h2 := &hostLock{dir: dir, l: testLogger}

	fileLock, err := h1.acquire()
	require.NoError(t, err)

	_, err = h2.acquire()
	assert.Equal(t, errHostBusy, err)

	require.NoError(t, fileLock.Close())
	fileLock, err = h2.acquire()
	require.NoError(t, err)
	require.NoError(t, fileLock.Close())
}

// TestSyncSkipsWhileHostBusy verifies that a Sync finding the evaluation
// lock held does nothing at all: no reads are acted on, no writes happen.
func TestSyncSkipsWhileHostBusy(t *testing.T) {
	ctx := testCtx(t)
	dir := tmpDir(t)
	exchange := newMemExchange("a")
	rec := &opRecorder{}

	ra := newTestRoller(t, exchange, "a", rec.opFor("a"), WithHostLockDir(dir))
	require.NoError(t, ra.Request(ctx, "r1"))
	writes := exchange.writeCount()

	require.NoError(t, touchFile(filepath.Join(dir, "sync.lock")))
	held, err := lock.ExclusiveLock(filepath.Join(dir, "sync.lock"), lock.RegFile)
	require.NoError(t, err)

	require.NoError(t, ra.Sync(ctx))
	assert.Empty(t, rec.ran(), "operation must not run while another process evaluates")
	assert.Equal(t, writes, exchange.writeCount())

	require.NoError(t, held.Close())
	require.NoError(t, ra.Sync(ctx))
	assert.Equal(t, []string{"a"}, rec.ran())
	requireStatus(t, ra, "a", "r1", StatusCompleted)
}
