// Package upload resolves client image references to bytes under a trusted
// upload directory.
package upload

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/nidhogg/embedgate/internal/embederr"
)

const (
	// MaxReferenceLength bounds the length of an image reference.
	MaxReferenceLength = 1024
	// MaxFileSize bounds the size of an image file.
	MaxFileSize = 32 << 20
)

// ValidateReference checks that ref is a relative path made of plain
// segments separated by forward slashes. It never touches the filesystem.
func ValidateReference(ref string) error {
	switch {
	case ref == "":
		return embederr.InvalidReference(ref, "empty reference")
	case len(ref) > MaxReferenceLength:
		return embederr.InvalidReference(ref[:32]+"...", "reference too long")
	case strings.ContainsRune(ref, 0):
		return embederr.InvalidReference(ref, "NUL byte")
	case strings.ContainsRune(ref, '\\'):
		return embederr.InvalidReference(ref, "backslash")
	case strings.HasPrefix(ref, "/"):
		return embederr.InvalidReference(ref, "absolute path")
	}
	for _, seg := range strings.Split(ref, "/") {
		switch seg {
		case "":
			return embederr.InvalidReference(ref, "empty path segment")
		case ".", "..":
			return embederr.InvalidReference(ref, "relative path segment")
		}
	}
	return nil
}

type entry struct {
	size    int64
	modTime time.Time
	data    []byte
}

// Resolver reads image files from beneath a single root directory.
// Returned byte slices may be shared between callers and must not be modified.
type Resolver struct {
	root   *os.Root
	dir    string
	cache  *lru.Cache[string, entry]
	logger *zap.Logger
}

// New opens dir as the upload root. cacheEntries > 0 enables an in-memory
// cache of file contents, revalidated against size and modification time.
func New(dir string, cacheEntries int, logger *zap.Logger) (*Resolver, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, embederr.Configuration("upload root %q: %v", dir, err)
	}
	r := &Resolver{root: root, dir: dir, logger: logger}
	if cacheEntries > 0 {
		cache, err := lru.New[string, entry](cacheEntries)
		if err != nil {
			root.Close()
			return nil, fmt.Errorf("upload: create cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Dir returns the upload root directory.
func (r *Resolver) Dir() string { return r.dir }

// Resolve returns the contents of the file named by ref.
func (r *Resolver) Resolve(ref string) ([]byte, error) {
	if err := ValidateReference(ref); err != nil {
		return nil, err
	}

	// Devices and pipes can block on open.
	pre, err := r.root.Stat(ref)
	if err != nil {
		r.logger.Debug("image reference not resolvable", zap.String("reference", ref), zap.Error(err))
		return nil, embederr.NotFound(ref)
	}
	if !pre.Mode().IsRegular() {
		return nil, embederr.NotFound(ref)
	}

	f, err := r.root.OpenFile(ref, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		r.logger.Debug("image reference not resolvable", zap.String("reference", ref), zap.Error(err))
		return nil, embederr.NotFound(ref)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("upload: stat %s: %w", ref, err)
	}
	if !info.Mode().IsRegular() {
		return nil, embederr.NotFound(ref)
	}
	if info.Size() > MaxFileSize {
		return nil, embederr.Decode(fmt.Errorf("file of %d bytes exceeds limit", info.Size()))
	}

	if r.cache != nil {
		if e, ok := r.cache.Get(ref); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
			return e.data, nil
		}
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("upload: read %s: %w", ref, err)
	}
	if len(data) > MaxFileSize {
		return nil, embederr.Decode(fmt.Errorf("file exceeds %d bytes", MaxFileSize))
	}

	if r.cache != nil {
		r.cache.Add(ref, entry{size: info.Size(), modTime: info.ModTime(), data: data})
	}
	return data, nil
}

// Close releases the root directory handle.
func (r *Resolver) Close() error {
	return r.root.Close()
}
