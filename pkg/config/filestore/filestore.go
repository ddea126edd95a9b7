package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/andrej220/torito/internal/lg"
	"github.com/andrej220/torito/pkg/config/configstore"
	"github.com/andrej220/torito/pkg/notify"
	"github.com/andrej220/torito/pkg/torrc"
	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

var ErrNotFound = errors.New("torrc not found")

const (
	backupTimeLayout = "20060102150405"
	backupSuffix     = "_torrc"
	backupPerm       = 0o600
	notifyTimeout    = 10 * time.Second
)

// OpError records a failed store operation and the path involved.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string { return e.Op + " " + e.Path + ": " + e.Err.Error() }
func (e *OpError) Unwrap() error { return e.Err }

// FileStore keeps a torrc on disk in sync with a torrc.Config. The backup
// path is fixed when the store is created.
type FileStore struct {
	path       string
	backupPath string
	fs         FS
	atomic     bool
	now        func() time.Time
	lg         lg.Logger
	notifier   notify.Notifier
}

type Option func(*FileStore)

func WithFS(fsys FS) Option                 { return func(s *FileStore) { s.fs = fsys } }
func WithClock(now func() time.Time) Option { return func(s *FileStore) { s.now = now } }
func WithLogger(l lg.Logger) Option         { return func(s *FileStore) { s.lg = l } }
func WithNotifier(n notify.Notifier) Option { return func(s *FileStore) { s.notifier = n } }

// WithAtomicSave makes Save write a temp file and rename it over the torrc.
func WithAtomicSave(atomic bool) Option { return func(s *FileStore) { s.atomic = atomic } }

// New opens the torrc at path and prepares <dir(path)>/<backupDirName>.
// A missing torrc yields an error matching ErrNotFound.
func New(path, backupDirName string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		fs:       OSFS{},
		now:      time.Now,
		lg:       lg.Discard,
		notifier: notify.Nop,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lg = s.lg.With(lg.String("torrc", path))

	if _, err := s.fs.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, &OpError{Op: "stat", Path: path, Err: err}
	}

	backupDir := filepath.Join(filepath.Dir(path), backupDirName)
	if err := s.fs.MkdirAll(backupDir, 0o755); err != nil {
		return nil, &OpError{Op: "mkdir", Path: backupDir, Err: err}
	}
	s.backupPath = filepath.Join(backupDir, s.now().Format(backupTimeLayout)+backupSuffix)

	return s, nil
}

func (s *FileStore) Path() string       { return s.path }
func (s *FileStore) BackupPath() string { return s.backupPath }

// Backup copies the torrc verbatim to BackupPath.
func (s *FileStore) Backup() error {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return &OpError{Op: "backup", Path: s.path, Err: err}
	}
	if err := s.fs.WriteFile(s.backupPath, data, backupPerm); err != nil {
		return &OpError{Op: "backup", Path: s.backupPath, Err: err}
	}

	s.lg.Info("torrc backed up", lg.String("backup", s.backupPath), lg.Int("bytes", len(data)))
	s.publish(notify.KindBackup)
	return nil
}

func (s *FileStore) Load() (*torrc.Config, error) {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return nil, &OpError{Op: "load", Path: s.path, Err: err}
	}

	cfg, err := torrc.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}

	s.lg.Debug("torrc loaded",
		lg.Bool("useBridge", cfg.UseBridge),
		lg.Int("bridges", len(cfg.BridgeConfig.Bridges)),
		lg.Int("others", len(cfg.Others)))
	return cfg, nil
}

// Save regenerates the whole torrc from cfg. Unless atomic saves are enabled
// the file is truncated in place, so a failed write can leave it partial.
func (s *FileStore) Save(cfg *torrc.Config) error {
	if err := torrc.Validate(cfg); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}

	var err error
	if s.atomic {
		err = s.saveAtomic(cfg)
	} else {
		err = s.saveInPlace(cfg)
	}
	if err != nil {
		return &OpError{Op: "save", Path: s.path, Err: err}
	}

	s.lg.Info("torrc saved", lg.Bool("atomic", s.atomic))
	s.publish(notify.KindSave)
	return nil
}

func (s *FileStore) saveInPlace(cfg *torrc.Config) error {
	data, err := torrc.Marshal(cfg)
	if err != nil {
		return err
	}

	perm := fs.FileMode(backupPerm)
	if info, err := s.fs.Stat(s.path); err == nil {
		perm = info.Mode().Perm()
	}
	return s.fs.WriteFile(s.path, data, perm)
}

func (s *FileStore) saveAtomic(cfg *torrc.Config) error {
	pendingFile, err := renameio.NewPendingFile(s.path, renameio.WithExistingPermissions())
	if err != nil {
		return fmt.Errorf("create pending torrc: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			s.lg.Debug("cleanup pending torrc", lg.Err(err))
		}
	}()

	if err := torrc.Encode(pendingFile, cfg); err != nil {
		return err
	}
	return pendingFile.CloseAtomicallyReplace()
}

func (s *FileStore) publish(kind notify.Kind) {
	ev := notify.NewEvent(kind, s.path, s.now())
	if kind == notify.KindBackup {
		ev.BackupPath = s.backupPath
	}

	ctx, cancel := context.WithTimeout(lg.Attach(context.Background(), s.lg), notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.lg.Warn("failed to publish torrc event", lg.String("kind", string(kind)), lg.Err(err))
	}
}

// Watch calls onChange whenever the torrc is written or replaced, until ctx
// is done. The parent directory is watched so rename-based editors are seen.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					s.lg.Debug("torrc changed", lg.String("op", event.Op.String()))
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.lg.Warn("watcher error", lg.Err(err))
			}
		}
	}()

	return nil
}
