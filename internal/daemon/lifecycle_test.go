package daemon

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/girasol/internal/errdefs"
)

// deadPID is above the default pid_max.
const deadPID = 4194304

func writeLock(t *testing.T, dir string, info LockInfo) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0750))
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), data, 0644))
}

func TestAcquireLock_WritesInfo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")

	lock, err := AcquireLock(dir, "127.0.0.1:0")
	require.NoError(t, err)

	got, err := ReadLockFile(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, os.Getpid(), got.PID)
	assert.Equal(t, "127.0.0.1:0", got.Listen)
	assert.False(t, got.StartedAt.IsZero())

	require.NoError(t, lock.SetListen("127.0.0.1:7000"))
	got, err = ReadLockFile(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", got.Listen)
	assert.Equal(t, "127.0.0.1:7000", lock.Info().Listen)

	lock.Release()
	got, err = ReadLockFile(dir)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAcquireLock_RefusesLiveHolder(t *testing.T) {
	dir := t.TempDir()
	// The parent of the test binary is alive and is not us.
	writeLock(t, dir, LockInfo{PID: os.Getppid(), Listen: "127.0.0.1:7878"})

	_, err := AcquireLock(dir, "127.0.0.1:0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConflict))
	assert.Contains(t, err.Error(), "127.0.0.1:7878")
}

func TestAcquireLock_TakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	writeLock(t, dir, LockInfo{PID: deadPID, Listen: "127.0.0.1:7878"})

	lock, err := AcquireLock(dir, "127.0.0.1:9000")
	require.NoError(t, err)
	defer lock.Release()

	got, err := ReadLockFile(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got.PID)
}

func TestAcquireLock_TakesOverCorruptLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), []byte("{not json"), 0644))

	lock, err := AcquireLock(dir, "127.0.0.1:9000")
	require.NoError(t, err)
	lock.Release()
}

func TestLock_ReleaseKeepsForeignLock(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "127.0.0.1:9000")
	require.NoError(t, err)

	// Another process took over after we were presumed dead.
	writeLock(t, dir, LockInfo{PID: os.Getppid(), Listen: "127.0.0.1:1"})
	lock.Release()

	got, err := ReadLockFile(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, os.Getppid(), got.PID)
}

func TestReadLockFile_Missing(t *testing.T) {
	got, err := ReadLockFile(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLockInfo_IsAlive(t *testing.T) {
	assert.True(t, (&LockInfo{PID: os.Getpid()}).IsAlive())
	assert.False(t, (&LockInfo{PID: deadPID}).IsAlive())
	assert.False(t, (&LockInfo{}).IsAlive())
}

func TestResolveEndpoint(t *testing.T) {
	dir := t.TempDir()
	const fallback = "127.0.0.1:7878"

	assert.Equal(t, fallback, ResolveEndpoint(dir, fallback))

	writeLock(t, dir, LockInfo{PID: os.Getpid(), Listen: "127.0.0.1:9999"})
	assert.Equal(t, "127.0.0.1:9999", ResolveEndpoint(dir, fallback))

	writeLock(t, dir, LockInfo{PID: deadPID, Listen: "127.0.0.1:9999"})
	assert.Equal(t, fallback, ResolveEndpoint(dir, fallback))
}
