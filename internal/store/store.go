// Package store persists regulation settings as a YAML file.
package store

import (
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/dimmer-regulator/internal/regulation"
)

// document is the on-disk layout. Channels is a list so files written for
// fewer channels still load.
type document struct {
	Channels []regulation.ChannelSettings `yaml:"channels"`
}

// File is a regulation.Store backed by a single YAML file. Save replaces
// the file with a rename.
type File struct {
	path string
}

// NewFile returns a store for path. The file is created on first Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load reads the settings. A missing file yields zero settings.
func (f *File) Load() (regulation.Settings, error) {
	var s regulation.Settings
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", f.path, err)
	}
	if len(doc.Channels) > regulation.NumChannels {
		return s, fmt.Errorf("parse settings %s: %d channels, at most %d", f.path, len(doc.Channels), regulation.NumChannels)
	}
	copy(s.Channels[:], doc.Channels)
	return s, nil
}

// Save replaces the settings file atomically.
func (f *File) Save(s regulation.Settings) error {
	data, err := yaml.Marshal(document{Channels: s.Channels[:]})
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := renameio.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
