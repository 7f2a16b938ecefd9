package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mbocsi/gotadek/device"
	"gopkg.in/yaml.v3"
)

// Store persists device configurations.
type Store interface {
	Load() ([]device.Config, error)
	Save([]device.Config) error
}

type devicesFile struct {
	Devices []device.Config `yaml:"devices"`
}

// YAMLStore keeps the device list in a YAML file. A missing file is an
// empty list.
type YAMLStore struct {
	Path string
}

func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{Path: path}
}

func (s *YAMLStore) Load() ([]device.Config, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read device store: %w", err)
	}

	var file devicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse device store %s: %w", s.Path, err)
	}

	seen := make(map[string]bool, len(file.Devices))
	for _, cfg := range file.Devices {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("device store %s: %w", s.Path, err)
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("device store %s: %w: %q", s.Path, ErrNameInUse, cfg.Name)
		}
		seen[cfg.Name] = true
	}
	return file.Devices, nil
}

func (s *YAMLStore) Save(configs []device.Config) error {
	data, err := yaml.Marshal(devicesFile{Devices: configs})
	if err != nil {
		return fmt.Errorf("encode device store: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create device store directory: %w", err)
		}
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write device store: %w", err)
	}
	return os.Rename(tmp, s.Path)
}
