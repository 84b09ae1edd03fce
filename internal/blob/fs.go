package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const metaSuffix = ".meta"

// Filesystem maps keys to files under a root directory. Content type and
// metadata live in a JSON sidecar next to each file.
type Filesystem struct {
	root string
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewFilesystem returns a store rooted at dir, creating it if needed.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob: filesystem root required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Filesystem{root: dir}, nil
}

func (s *Filesystem) Driver() Driver { return DriverFilesystem }

// Root returns the directory the store writes under.
func (s *Filesystem) Root() string { return s.root }

func (s *Filesystem) pathFor(key string) (string, string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return k, filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Put streams r into a temporary file in the destination directory and
// renames it into place, so readers never observe a partial object.
func (s *Filesystem) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	k, dst, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	size, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return Info{}, fmt.Errorf("write %s: %w", k, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return Info{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Info{}, err
	}

	meta := dst + metaSuffix
	if opts.ContentType != "" || len(opts.Metadata) > 0 {
		b, err := json.Marshal(sidecar{ContentType: opts.ContentType, Metadata: opts.Metadata})
		if err != nil {
			return Info{}, err
		}
		if err := os.WriteFile(meta, b, 0o644); err != nil {
			return Info{}, err
		}
	} else {
		_ = os.Remove(meta)
	}

	st, err := os.Stat(dst)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Key:          k,
		Size:         size,
		ContentType:  opts.ContentType,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: st.ModTime().UTC(),
	}, nil
}

func (s *Filesystem) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	k, p, err := s.pathFor(key)
	if err != nil {
		return Info{}, nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, nil, fmt.Errorf("%s: %w", k, ErrNotFound)
	}
	if err != nil {
		return Info{}, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Info{}, nil, err
	}
	info := Info{Key: k, Size: st.Size(), LastModified: st.ModTime().UTC()}
	if b, err := os.ReadFile(p + metaSuffix); err == nil {
		var sc sidecar
		if json.Unmarshal(b, &sc) == nil {
			info.ContentType = sc.ContentType
			info.Metadata = sc.Metadata
		}
	}
	return info, f, nil
}

func (s *Filesystem) List(_ context.Context, prefix string) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Info{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Filesystem) Delete(_ context.Context, key string) (bool, error) {
	_, p, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = os.Remove(p + metaSuffix)
	return true, nil
}
