package plugin

import "fmt"

// Ref identifies one loaded plugin artifact. For manifest plugins it is the
// absolute path of the manifest file.
type Ref string

// NotificationKind is the type of change the loader observed.
type NotificationKind int

const (
	// Added reports a key that became available.
	Added NotificationKind = iota
	// Removed reports keys whose artifact went away.
	Removed
	// Modified reports keys whose artifact changed on disk.
	Modified
)

// String returns a human-readable representation of the kind.
func (k NotificationKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Notification is sent by the loader when its set of plugins changes.
type Notification struct {
	Kind NotificationKind
	Ref  Ref
	Keys []string
}
