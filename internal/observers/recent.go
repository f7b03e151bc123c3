package observers

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRecentSize bounds a recent observer created without a size.
const DefaultRecentSize = 1000

// Recent remembers the most recently created or renamed-to paths.
// Deleting a path forgets it; renaming moves it to the new name.
type Recent struct {
	cache *lru.Cache[string, struct{}]
}

// NewRecent creates a recent observer holding at most size paths.
func NewRecent(size int) (*Recent, error) {
	if size <= 0 {
		size = DefaultRecentSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create recent cache: %w", err)
	}
	return &Recent{cache: cache}, nil
}

// OnFileCreate remembers path as the newest entry.
func (r *Recent) OnFileCreate(path string) error {
	r.cache.Add(path, struct{}{})
	return nil
}

// OnFileDelete forgets path.
func (r *Recent) OnFileDelete(path string) error {
	r.cache.Remove(path)
	return nil
}

// OnFileRename forgets oldPath and remembers newPath as the newest entry.
func (r *Recent) OnFileRename(oldPath, newPath string) error {
	r.cache.Remove(oldPath)
	r.cache.Add(newPath, struct{}{})
	return nil
}

// Paths returns the remembered paths, newest first.
func (r *Recent) Paths() []string {
	keys := r.cache.Keys() // oldest first
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}

// Len returns the number of remembered paths.
func (r *Recent) Len() int {
	return r.cache.Len()
}
