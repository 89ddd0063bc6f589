package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/engine/enginetest"
	"github.com/harunnryd/sdd/internal/sandbox"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJanitor(t *testing.T) (*Janitor, *enginetest.Fake, *sandbox.ScratchManager) {
	t.Helper()
	f := enginetest.New()
	scratch, err := sandbox.NewScratchManager(t.TempDir())
	require.NoError(t, err)
	j, err := New(f, scratch, Options{HelperTTL: time.Hour, ScratchTTL: time.Hour})
	require.NoError(t, err)
	return j, f, scratch
}

func createHelper(t *testing.T, f *enginetest.Fake) string {
	t.Helper()
	id, err := f.CreateContainer(context.Background(), engine.ContainerSpec{
		Image:  "busybox:stable",
		Labels: map[string]string{sandbox.HelperLabel: "true"},
	})
	require.NoError(t, err)
	return id
}

func TestSweep_RemovesOnlyStaleHelpers(t *testing.T) {
	j, f, _ := newJanitor(t)
	now := time.Now()

	stale := createHelper(t, f)
	fresh := createHelper(t, f)
	f.Summaries = []engine.ContainerSummary{
		{ID: stale, State: "exited", Labels: map[string]string{sandbox.HelperLabel: "true"}, Created: now.Add(-2 * time.Hour)},
		{ID: fresh, State: "running", Labels: map[string]string{sandbox.HelperLabel: "true"}, Created: now.Add(-time.Minute)},
		{ID: "web", State: "exited", Created: now.Add(-48 * time.Hour)},
	}

	rep, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.HelpersRemoved)
	assert.Equal(t, []string{stale}, f.Removed)
	assert.Equal(t, 1, f.Live())

	last, lastErr := j.LastRun()
	assert.False(t, last.IsZero())
	assert.NoError(t, lastErr)
}

func TestSweep_RemovesStaleScratchButKeepsLock(t *testing.T) {
	j, _, scratch := newJanitor(t)

	old := time.Now().Add(-2 * time.Hour)
	leftover := filepath.Join(scratch.BaseDir(), "01HLEFTOVER")
	require.NoError(t, os.MkdirAll(leftover, 0755))
	require.NoError(t, os.Chtimes(leftover, old, old))

	// a first sweep creates the lock file; age it as well
	_, err := j.Sweep(context.Background())
	require.NoError(t, err)
	lock := filepath.Join(scratch.BaseDir(), lockFile)
	require.FileExists(t, lock)
	require.NoError(t, os.Chtimes(lock, old, old))

	require.NoError(t, os.MkdirAll(leftover, 0755))
	require.NoError(t, os.Chtimes(leftover, old, old))

	rep, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ScratchRemoved)
	assert.NoDirExists(t, leftover)
	assert.FileExists(t, lock)
}

func TestSweep_SkipsWhenLockHeld(t *testing.T) {
	j, f, scratch := newJanitor(t)

	other := flock.New(filepath.Join(scratch.BaseDir(), lockFile))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	t.Cleanup(func() { _ = other.Unlock() })

	stale := createHelper(t, f)
	f.Summaries = []engine.ContainerSummary{
		{ID: stale, Labels: map[string]string{sandbox.HelperLabel: "true"}, Created: time.Now().Add(-time.Hour * 5)},
	}

	rep, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Empty(t, f.Removed)
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	scratch, err := sandbox.NewScratchManager(t.TempDir())
	require.NoError(t, err)

	_, err = New(enginetest.New(), scratch, Options{Schedule: "every tuesday"})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	j, _, _ := newJanitor(t)

	require.NoError(t, j.Start(context.Background()))
	require.NoError(t, j.Start(context.Background()), "second start is a no-op")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, j.Stop(ctx))
	assert.NoError(t, j.Stop(ctx))
}
