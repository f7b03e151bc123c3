package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
)

// Manifest is the on-disk form of a plugin artifact.
//
//	observers:
//	  - key: audit
//	    kind: journal
//	    options:
//	      path: audit.db
type Manifest struct {
	Observers []ObserverSpec `yaml:"observers"`
}

// ObserverSpec declares one observer key and how to build it.
type ObserverSpec struct {
	Key  string `yaml:"key"`
	Kind string `yaml:"kind"`

	// Options is decoded by the factory according to Kind.
	Options yaml.Node `yaml:"options"`

	// dir is the manifest's directory; relative option paths resolve against it.
	dir string
}

// IsManifest reports whether path has a manifest extension.
func IsManifest(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// ParseManifest reads and validates the manifest at path.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, aerrors.New(aerrors.ErrCodeInvalidManifest,
			fmt.Sprintf("cannot parse manifest %s", path), err).
			WithDetail("path", path)
	}

	if err := m.validate(); err != nil {
		return nil, aerrors.New(aerrors.ErrCodeInvalidManifest,
			fmt.Sprintf("invalid manifest %s: %v", path, err), err).
			WithDetail("path", path)
	}

	dir := filepath.Dir(path)
	for i := range m.Observers {
		m.Observers[i].dir = dir
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool, len(m.Observers))
	for i, o := range m.Observers {
		if strings.TrimSpace(o.Key) == "" {
			return fmt.Errorf("observers[%d]: key is required", i)
		}
		if strings.TrimSpace(o.Kind) == "" {
			return fmt.Errorf("observer %q: kind is required", o.Key)
		}
		if seen[o.Key] {
			return fmt.Errorf("observer %q declared twice", o.Key)
		}
		seen[o.Key] = true
	}
	return nil
}
