package configstore

import "github.com/andrej220/torito/pkg/torrc"

// ConfigStore moves a torrc.Config between memory and a backing store.
type ConfigStore interface {
	Backup() error
	Load() (*torrc.Config, error)
	Save(cfg *torrc.Config) error
}
