package observer

import "fmt"

// Observer reacts to filesystem change events.
//
// Callbacks for one observer are never invoked concurrently. A handle that
// also implements io.Closer is closed once, after its last callback returned.
type Observer interface {
	OnFileCreate(path string) error
	OnFileDelete(path string) error
	OnFileRename(oldPath, newPath string) error
}

// Kind is the type of a filesystem change event.
type Kind int

const (
	// Created indicates a new file or directory.
	Created Kind = iota
	// Deleted indicates a file or directory was removed.
	Deleted
	// Renamed indicates a file or directory moved from OldPath to Path.
	Renamed
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "CREATE"
	case Deleted:
		return "DELETE"
	case Renamed:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event is a single filesystem change.
type Event struct {
	Kind Kind

	// Path is the affected path; for renames it is the new path.
	Path string

	// OldPath is the previous path for rename events.
	// Empty for other kinds.
	OldPath string
}

// Apply invokes the callback of o matching the event kind.
func (e Event) Apply(o Observer) error {
	switch e.Kind {
	case Created:
		return o.OnFileCreate(e.Path)
	case Deleted:
		return o.OnFileDelete(e.Path)
	case Renamed:
		return o.OnFileRename(e.OldPath, e.Path)
	default:
		return fmt.Errorf("unknown event kind %d", e.Kind)
	}
}

// Func adapts three plain functions to the Observer interface.
// Nil fields are treated as no-ops.
type Func struct {
	Create func(path string) error
	Delete func(path string) error
	Rename func(oldPath, newPath string) error
}

// OnFileCreate implements Observer.
func (f Func) OnFileCreate(path string) error {
	if f.Create == nil {
		return nil
	}
	return f.Create(path)
}

// OnFileDelete implements Observer.
func (f Func) OnFileDelete(path string) error {
	if f.Delete == nil {
		return nil
	}
	return f.Delete(path)
}

// OnFileRename implements Observer.
func (f Func) OnFileRename(oldPath, newPath string) error {
	if f.Rename == nil {
		return nil
	}
	return f.Rename(oldPath, newPath)
}
