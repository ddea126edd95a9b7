// Package notify publishes torrc change events so other components can react
// to a backup or a rewrite of the managed file.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindBackup Kind = "backup"
	KindSave   Kind = "save"
)

type Event struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	Path       string    `json:"path"`
	BackupPath string    `json:"backupPath,omitempty"`
	Time       time.Time `json:"time"`
}

func NewEvent(kind Kind, path string, at time.Time) Event {
	return Event{
		ID:   uuid.New(),
		Kind: kind,
		Path: path,
		Time: at,
	}
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close() error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
func (nopNotifier) Close() error                        { return nil }

// Nop drops every event.
var Nop Notifier = nopNotifier{}
