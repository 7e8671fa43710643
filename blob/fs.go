package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// FS stores blobs as files under a root directory. Each blob has a
// msgpack encoded sidecar (name + ".meta") holding its Info.
type FS struct {
	root string
}

type sidecar struct {
	ContentType  string            `msgpack:"content_type,omitempty"`
	Metadata     map[string]string `msgpack:"metadata,omitempty"`
	Size         int64             `msgpack:"size"`
	LastModified time.Time         `msgpack:"last_modified"`
}

// NewFS returns a filesystem store rooted at root, creating it if needed.
func NewFS(root string) (*FS, error) {
	if root == "" {
		root = "./files"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FS{root: root}, nil
}

// Driver implements Store.
func (*FS) Driver() Driver { return DriverFilesystem }

func (s *FS) paths(key string) (string, string, string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", "", "", err
	}
	data := filepath.Join(s.root, filepath.FromSlash(key))
	return key, data, data + ".meta", nil
}

// Put implements Store. Content is written to a temporary file and moved
// into place.
func (s *FS) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	key, dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return Info{}, err
	}
	dir := filepath.Dir(dataPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("blob: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return Info{}, fmt.Errorf("blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	size, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err != nil {
		return Info{}, fmt.Errorf("blob: write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return Info{}, fmt.Errorf("blob: %w", err)
	}
	sc := sidecar{
		ContentType:  opts.ContentType,
		Metadata:     maps.Clone(opts.Metadata),
		Size:         size,
		LastModified: time.Now().UTC(),
	}
	raw, err := msgpack.Marshal(&sc)
	if err != nil {
		return Info{}, fmt.Errorf("blob: encode meta: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return Info{}, fmt.Errorf("blob: %w", err)
	}
	return sc.info(key), nil
}

// Get implements Store.
func (s *FS) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	key, dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return Info{}, nil, err
	}
	f, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Info{}, nil, fmt.Errorf("blob: %w", err)
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = f.Close()
		return Info{}, nil, fmt.Errorf("blob: %w", err)
	}
	var sc sidecar
	if len(raw) > 0 {
		if err := msgpack.Unmarshal(raw, &sc); err != nil {
			_ = f.Close()
			return Info{}, nil, fmt.Errorf("blob: decode meta %s: %w", key, err)
		}
	} else if st, err := f.Stat(); err == nil {
		sc.Size, sc.LastModified = st.Size(), st.ModTime().UTC()
	}
	return sc.info(key), f, nil
}

// Delete implements Store.
func (s *FS) Delete(_ context.Context, key string) (bool, error) {
	_, dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blob: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, fmt.Errorf("blob: %w", err)
	}
	return true, nil
}

func (sc sidecar) info(key string) Info {
	return Info{
		Key:          key,
		Size:         sc.Size,
		ContentType:  sc.ContentType,
		Metadata:     sc.Metadata,
		LastModified: sc.LastModified,
	}
}

var _ Store = (*FS)(nil)
