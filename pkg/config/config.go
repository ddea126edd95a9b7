package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/torito/pkg/config/configstore"
	"github.com/andrej220/torito/pkg/config/filestore"
	"github.com/andrej220/torito/pkg/config/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
)

// ParseStoreType maps the names used in tool configs ("file", "mongo").
func ParseStoreType(s string) (StoreType, error) {
	switch s {
	case "", "file":
		return FileStore, nil
	case "mongo":
		return MongoStore, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStoreType, s)
	}
}

// Config interface that combines all store capabilities
type Config interface {
	configstore.ConfigStore
	Watch(ctx context.Context, onChange func()) error
}

type FileConfig struct {
	Path      string             `yaml:"path" json:"path" validate:"required"`
	BackupDir string             `yaml:"backupDir" json:"backupDir" validate:"required"`
	Atomic    bool               `yaml:"atomic" json:"atomic"`
	Options   []filestore.Option `yaml:"-" json:"-"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri" validate:"required"`
	DBName   string `yaml:"dbName" json:"dbName" validate:"required"`
	CollName string `yaml:"collName" json:"collName" validate:"required"`
	ID       string `yaml:"id" json:"id" validate:"required"` // Document ID
}

func NewStore(storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		opts := append([]filestore.Option{filestore.WithAtomicSave(fileCfg.Atomic)}, fileCfg.Options...)
		store, err := filestore.New(fileCfg.Path, fileCfg.BackupDir, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		store, err := mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, ErrInvalidStoreType
	}
}
