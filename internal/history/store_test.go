package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/girasol/internal/execution"
)

func result(id, name string, state execution.State) execution.Result {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return execution.Result{
		ID:         id,
		Name:       name,
		Method:     "PerfBranch",
		State:      state,
		ExitCode:   0,
		Iterations: 3,
		StartedAt:  start,
		FinishedAt: start.Add(30 * time.Millisecond),
		OutputPath: "/tmp/" + name + "-" + id + ".log",
	}
}

func TestRecordAndList(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	failed := result("2", "probe1", execution.Failed)
	failed.ExitCode = 3
	failed.Code = "exit"
	failed.Error = "probe1 exited: process exit: exit status 3"

	require.NoError(t, s.Record(ctx, result("1", "probe1", execution.Completed)))
	require.NoError(t, s.Record(ctx, failed))
	stopped := result("3", "other", execution.Completed)
	stopped.Stopped = true
	require.NoError(t, s.Record(ctx, stopped))

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"3", "2", "1"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.True(t, all[0].Stopped)
	assert.Equal(t, failed, all[1])

	byName, err := s.List(ctx, "probe1", 1)
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "2", byName[0].ID)
}

func TestRecordRejectsDuplicateID(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, result("1", "a", execution.Completed)))
	assert.Error(t, s.Record(ctx, result("1", "a", execution.Completed)))
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	for i := range 3 {
		require.NoError(t, s.Record(ctx, result(fmt.Sprint(i), "p", execution.Completed)))
	}
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.List(ctx, "p", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
