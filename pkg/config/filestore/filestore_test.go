package filestore_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrej220/torito/internal/lg"
	"github.com/andrej220/torito/pkg/config/filestore"
	"github.com/andrej220/torito/pkg/notify"
	"github.com/andrej220/torito/pkg/torrc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 10, 19, 8, 5, 9, 0, time.Local)

func clock() time.Time { return fixedNow }

func writeTorrc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "torrc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewMissingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := filestore.New(filepath.Join(dir, "torrc"), "backup")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, filestore.ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, statErr := os.Stat(filepath.Join(dir, "backup"))
	assert.True(t, os.IsNotExist(statErr), "backup dir must not be created")
}

func TestNewCreatesBackupDir(t *testing.T) {
	path := writeTorrc(t, "")
	s, err := filestore.New(path, "backup", filestore.WithClock(clock))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(filepath.Dir(path), "backup"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, path, s.Path())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "backup", "20261019080509_torrc"), s.BackupPath())

	// existing directory is fine
	_, err = filestore.New(path, "backup", filestore.WithClock(clock))
	assert.NoError(t, err)
}

func TestBackup(t *testing.T) {
	path := writeTorrc(t, "X")
	s, err := filestore.New(path, "backup", filestore.WithClock(clock))
	require.NoError(t, err)

	require.NoError(t, s.Backup())

	got, err := os.ReadFile(s.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, "X", string(got))

	orig, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "X", string(orig))
}

func TestBackupPathFixedAtConstruction(t *testing.T) {
	path := writeTorrc(t, "first")
	now := fixedNow
	s, err := filestore.New(path, "backup", filestore.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	require.NoError(t, s.Backup())

	now = now.Add(time.Hour)
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	require.NoError(t, s.Backup())

	entries, err := os.ReadDir(filepath.Dir(s.BackupPath()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	got, err := os.ReadFile(s.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestLoadScenario(t *testing.T) {
	path := writeTorrc(t, "UseBridges 1\nBridge 1.2.3.4:443\nHTTPProxy 10.0.0.1:8080\ncustom.option 5\n")
	s, err := filestore.New(path, "backup")
	require.NoError(t, err)

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.True(t, cfg.UseBridge)
	assert.Equal(t, []string{"1.2.3.4:443"}, cfg.BridgeConfig.Bridges)
	assert.Equal(t, []string{"10.0.0.1:8080"}, cfg.ProxyConfig.HTTPProxy)
	assert.Equal(t, []string{"custom.option 5"}, cfg.Others)
}

func TestLoadCarriageReturnLineEndings(t *testing.T) {
	path := writeTorrc(t, "UseBridges 1\rBridge 1.2.3.4:443\rSocksPort 9050\r")
	s, err := filestore.New(path, "backup")
	require.NoError(t, err)

	cfg, err := s.Load()
	require.NoError(t, err)
	assert.True(t, cfg.UseBridge)
	assert.Equal(t, []string{"1.2.3.4:443"}, cfg.BridgeConfig.Bridges)
	assert.Equal(t, []string{"SocksPort 9050"}, cfg.Others)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, atomic := range []bool{false, true} {
		name := "in place"
		if atomic {
			name = "atomic"
		}
		t.Run(name, func(t *testing.T) {
			path := writeTorrc(t, "SocksPort 9050\n")
			s, err := filestore.New(path, "backup", filestore.WithAtomicSave(atomic))
			require.NoError(t, err)

			cfg := &torrc.Config{
				UseBridge:    true,
				BridgeConfig: torrc.BridgeConfig{Bridges: []string{"obfs4 1.2.3.4:443 cert=abc iat-mode=0"}},
				ProxyConfig: torrc.ProxyConfig{
					Socks5Proxy:         []string{"127.0.0.1:1080"},
					Socks5ProxyUsername: []string{"user"},
					Socks5ProxyPassword: []string{"secret"},
				},
				Others: []string{"SocksPort 9050", "Log notice stdout"},
			}
			require.NoError(t, s.Save(cfg))

			got, err := s.Load()
			require.NoError(t, err)
			assert.Equal(t, cfg, got)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, fs.FileMode(0o644), info.Mode().Perm())
		})
	}
}

func TestSaveTruncates(t *testing.T) {
	path := writeTorrc(t, "a very long line that must disappear after saving a shorter file\n")
	s, err := filestore.New(path, "backup")
	require.NoError(t, err)

	require.NoError(t, s.Save(torrc.New()))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, torrc.StartMarker+"\n"+torrc.EndMarker+"\n", string(got))
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	path := writeTorrc(t, "keep\n")
	s, err := filestore.New(path, "backup")
	require.NoError(t, err)

	cfg := torrc.New()
	cfg.BridgeConfig.Bridges = []string{"a\nb"}
	assert.ErrorIs(t, s.Save(cfg), torrc.ErrInvalidConfig)
	assert.ErrorIs(t, s.Save(nil), torrc.ErrInvalidConfig)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep\n", string(got))
}

// faultyFS fails the selected operations and otherwise delegates to the OS.
type faultyFS struct {
	filestore.OSFS
	readErr  error
	writeErr error
	mkdirErr error
}

func (f faultyFS) ReadFile(name string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.OSFS.ReadFile(name)
}

func (f faultyFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.OSFS.WriteFile(name, data, perm)
}

func (f faultyFS) MkdirAll(path string, perm fs.FileMode) error {
	if f.mkdirErr != nil {
		return f.mkdirErr
	}
	return f.OSFS.MkdirAll(path, perm)
}

func TestIOErrors(t *testing.T) {
	boom := errors.New("boom")
	path := writeTorrc(t, "Bridge x\n")

	t.Run("mkdir", func(t *testing.T) {
		_, err := filestore.New(path, "backup", filestore.WithFS(faultyFS{mkdirErr: fs.ErrPermission}))
		var opErr *filestore.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "mkdir", opErr.Op)
		assert.ErrorIs(t, err, fs.ErrPermission)
	})

	t.Run("backup read", func(t *testing.T) {
		s, err := filestore.New(path, "backup", filestore.WithFS(faultyFS{readErr: boom}))
		require.NoError(t, err)
		err = s.Backup()
		var opErr *filestore.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "backup", opErr.Op)
		assert.Equal(t, path, opErr.Path)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("backup write", func(t *testing.T) {
		s, err := filestore.New(path, "backup", filestore.WithFS(faultyFS{writeErr: boom}))
		require.NoError(t, err)
		err = s.Backup()
		var opErr *filestore.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, s.BackupPath(), opErr.Path)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("load", func(t *testing.T) {
		s, err := filestore.New(path, "backup", filestore.WithFS(faultyFS{readErr: boom}))
		require.NoError(t, err)
		cfg, err := s.Load()
		assert.Nil(t, cfg)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("save", func(t *testing.T) {
		s, err := filestore.New(path, "backup", filestore.WithFS(faultyFS{writeErr: boom}))
		require.NoError(t, err)
		err = s.Save(torrc.New())
		var opErr *filestore.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "save", opErr.Op)
		assert.ErrorIs(t, err, boom)
	})
}

type recordingNotifier struct {
	events  []notify.Event
	loggers []lg.Logger
	err     error
}

func (r *recordingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	r.events = append(r.events, ev)
	r.loggers = append(r.loggers, lg.FromContext(ctx))
	return r.err
}

func (r *recordingNotifier) Close() error { return nil }

func TestNotifications(t *testing.T) {
	path := writeTorrc(t, "X")
	n := &recordingNotifier{err: errors.New("kafka down")}
	s, err := filestore.New(path, "backup", filestore.WithClock(clock), filestore.WithNotifier(n))
	require.NoError(t, err)

	require.NoError(t, s.Backup(), "publish failures must not fail the backup")
	require.NoError(t, s.Save(torrc.New()))

	require.Len(t, n.events, 2)
	assert.Equal(t, notify.KindBackup, n.events[0].Kind)
	assert.Equal(t, s.BackupPath(), n.events[0].BackupPath)
	assert.Equal(t, notify.KindSave, n.events[1].Kind)
	assert.Equal(t, path, n.events[1].Path)
	assert.Empty(t, n.events[1].BackupPath)
	assert.Equal(t, []lg.Logger{lg.Discard, lg.Discard}, n.loggers)
}

func TestNotificationsCarryStoreLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	path := writeTorrc(t, "X")
	n := &recordingNotifier{}
	s, err := filestore.New(path, "backup", filestore.WithNotifier(n), filestore.WithLogger(lg.Wrap(zap.New(core))))
	require.NoError(t, err)

	require.NoError(t, s.Backup())
	require.Len(t, n.loggers, 1)

	n.loggers[0].Info("published")
	entries := logs.FilterMessage("published").All()
	require.Len(t, entries, 1)
	assert.Equal(t, path, entries[0].ContextMap()["torrc"])
}

func TestWatch(t *testing.T) {
	path := writeTorrc(t, "Bridge x\n")
	s, err := filestore.New(path, "backup")
	require.NoError(t, err)

	assert.Error(t, s.Watch(context.Background(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	require.NoError(t, s.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))

	require.NoError(t, s.Backup())
	require.NoError(t, s.Save(torrc.New()))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification for torrc write")
	}
}
