// Package media resolves the display source of an image or video field.
//
// A field holds a remote URL, a pending upload (*models.Blob) or nothing.
// Remote URLs get a cache-busting query parameter so an image replaced under
// the same path is fetched again. Pending uploads are written to a temporary
// file that lives until its [Handle] is released.
package media

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/programshouse/medicaldash/pkg/constants"
	"github.com/programshouse/medicaldash/pkg/models"
)

// CacheParam is the query parameter carrying the cache key.
const CacheParam = "v"

// Bust sets the cache key as a query parameter of a remote URL, replacing
// any key already there. An empty key or an unparsable URL leaves it unchanged.
func Bust(rawURL, cacheKey string) string {
	if cacheKey == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(CacheParam, cacheKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// CacheKey derives the cache key of a record: updated_at, else created_at,
// else the current time in milliseconds.
func CacheKey(rec models.Record, now time.Time) string {
	for _, field := range []string{"updated_at", "created_at"} {
		if v, ok := rec.String(field); ok {
			return v
		}
	}
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// Handle is a resolved display source. Handles for pending uploads own a
// temporary file; Release removes it.
type Handle struct {
	url  string
	path string

	once     sync.Once
	released bool
	mu       sync.Mutex
	logger   zerolog.Logger
}

// URL returns the display URL. It is empty once a local handle is released.
func (h *Handle) URL() string {
	if h == nil {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released && h.path != "" {
		return ""
	}
	return h.url
}

// Local reports whether the handle owns a temporary file.
func (h *Handle) Local() bool {
	return h != nil && h.path != ""
}

// Release frees the temporary file. Only the first call does anything; later
// calls return constants.ErrBlobReleased.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	err := constants.ErrBlobReleased
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		err = nil
		if h.path == "" {
			return
		}
		if rmErr := os.Remove(h.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = fmt.Errorf("release %s: %w", h.path, rmErr)
			return
		}
		h.logger.Debug().Str("path", h.path).Msg("released media source")
	})
	return err
}

// Resolver turns field values into handles.
type Resolver struct {
	// Dir holds temporary files. Empty means os.TempDir().
	Dir    string
	Logger zerolog.Logger
}

func NewResolver(dir string, logger zerolog.Logger) *Resolver {
	return &Resolver{Dir: dir, Logger: logger}
}

// Resolve returns the display source for value, or nil when value is absent.
// Strings are treated as remote URLs and cache-busted with cacheKey.
func (r *Resolver) Resolve(value any, cacheKey string) (*Handle, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return &Handle{url: Bust(v, cacheKey)}, nil
	}

	blob, ok := models.AsBlob(value)
	if !ok {
		return nil, fmt.Errorf("media: unsupported value of type %T", value)
	}
	return r.materialize(blob)
}

func (r *Resolver) materialize(blob *models.Blob) (*Handle, error) {
	dir := r.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("media dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "media-*"+filepath.Ext(blob.Filename))
	if err != nil {
		return nil, fmt.Errorf("create media file: %w", err)
	}
	if _, err := f.Write(blob.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close media file: %w", err)
	}

	path, err := filepath.Abs(f.Name())
	if err != nil {
		path = f.Name()
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	r.Logger.Debug().Str("path", path).Int("bytes", blob.Size()).Msg("materialized media source")
	return &Handle{url: u.String(), path: path, logger: r.Logger}, nil
}
