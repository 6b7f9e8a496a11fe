package repository

import "errors"

// ErrNoSettings is returned by Load when nothing has been persisted yet.
var ErrNoSettings = errors.New("no settings stored")

// SettingsRepository abstracts settings persistence.
// Load and Save exchange JSON regardless of the on-disk format.
type SettingsRepository interface {
	Load() ([]byte, error)
	Save(data []byte) error
	// FindSettingsFile returns the path Load would read, or "" when none exists.
	FindSettingsFile() (string, error)
}
