package plugin

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	aerrors "github.com/Aman-CERP/anythingd/internal/errors"
	"github.com/Aman-CERP/anythingd/internal/observer"
	"github.com/Aman-CERP/anythingd/internal/observers"
)

// Observer kinds a manifest may declare.
const (
	KindLog     = "log"
	KindJournal = "journal"
	KindRecent  = "recent"
)

type logOptions struct {
	Level string `yaml:"level"`
}

type journalOptions struct {
	// Path of the database. Relative paths resolve against the manifest
	// directory. Default: <key>.db.
	Path string `yaml:"path"`
}

type recentOptions struct {
	Size int `yaml:"size"`
}

// Create builds a new observer for key from its manifest entry.
// Every call returns a fresh instance.
func (l *Loader) Create(key string) (observer.Observer, error) {
	l.mu.RLock()
	spec, ok := l.specs[key]
	l.mu.RUnlock()
	if !ok {
		return nil, aerrors.New(aerrors.ErrCodeUnknownKey,
			fmt.Sprintf("no plugin provides observer %q", key), nil).
			WithDetail("key", key)
	}

	switch spec.Kind {
	case KindLog:
		var opts logOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, err
		}
		level, err := observers.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		return observers.NewLog(key, level, l.logger), nil

	case KindJournal:
		var opts journalOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, err
		}
		path := opts.Path
		if path == "" {
			path = key + ".db"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(spec.dir, path)
		}
		j, err := observers.OpenJournal(path, l.logger)
		if err != nil {
			return nil, aerrors.New(aerrors.ErrCodeJournalFail, err.Error(), err).WithDetail("path", path)
		}
		return j, nil

	case KindRecent:
		var opts recentOptions
		if err := decodeOptions(spec.Options, &opts); err != nil {
			return nil, err
		}
		return observers.NewRecent(opts.Size)

	default:
		return nil, fmt.Errorf("unknown observer kind %q", spec.Kind)
	}
}

func decodeOptions(node yaml.Node, out any) error {
	// Zero node: options omitted.
	if node.Kind == 0 {
		return nil
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}
