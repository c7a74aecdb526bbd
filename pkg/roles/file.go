package roles

import (
	"io"
	"path/filepath"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/watch"
	log "github.com/sirupsen/logrus"
)

// FileResolver is a StaticResolver kept in sync with a JSON file on disk.
// An edit that fails to parse is logged and the previous mapping stays in
// effect.
type FileResolver struct {
	*StaticResolver
	path    string
	watcher io.Closer
}

// NewFileResolver loads path and, when debounce is positive, reloads it
// whenever its directory changes.
func NewFileResolver(
	path string,
	debounce time.Duration,
) (
	*FileResolver,
	error,
) {
	mapping, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	r := &FileResolver{
		StaticResolver: NewStaticResolver(mapping),
		path:           path,
	}
	log.Printf("Loaded role mappings for %d accounts from %s", len(mapping), path)

	if debounce > 0 {
		w, err := watch.Dir(filepath.Dir(path), debounce, r.reload)
		if err != nil {
			return nil, err
		}
		r.watcher = w
	}
	return r, nil
}

func (r *FileResolver) reload() {
	mapping, err := LoadFile(r.path)
	if err != nil {
		log.Printf("keeping previous role mappings: %v", err)
		return
	}
	r.Replace(mapping)
	log.Printf("Reloaded role mappings for %d accounts from %s", len(mapping), r.path)
}

func (r *FileResolver) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}
