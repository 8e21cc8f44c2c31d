package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/geofuse/internal/fs"
)

// tempPrefix marks in-flight writes; List skips them.
const tempPrefix = ".tmp-"

// LocalOptions configures a LocalStore.
type LocalOptions struct {
	// FS is the file system the store writes to. Nil means the local disk.
	FS fs.FileSystem
}

// LocalStore implements BlobStore on a directory.
//
// Writes go to a temporary file next to the target and are renamed into
// place on close, followed by a sync of the directory, so readers never see
// a partial column and a committed CURRENT survives a crash.
type LocalStore struct {
	root string
	fs   fs.FileSystem
}

// NewLocalStore returns a store rooted at root. The directory is created on
// first write.
func NewLocalStore(root string, optFns ...func(*LocalOptions)) *LocalStore {
	opts := LocalOptions{FS: fs.Default}
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	return &LocalStore{root: root, fs: opts.FS}
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open opens a blob for reading.
func (s *LocalStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.fs.OpenFile(s.path(name), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &localBlob{f: f, size: info.Size()}, nil
}

// Create starts a write that becomes visible on Close.
func (s *LocalStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := s.path(name)
	dir := filepath.Dir(target)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := s.fs.CreateTemp(dir, tempPrefix+filepath.Base(target)+"-*")
	if err != nil {
		return nil, err
	}
	return &localWriter{fs: s.fs, f: f, target: target}, nil
}

// Put writes a blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = Abort(w)
		return err
	}
	return w.Close()
}

// Delete removes a blob. Missing blobs are not an error.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := s.fs.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the sorted, slash-separated names starting with prefix.
// A missing root lists as empty.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	if err := s.walk(ctx, s.root, "", prefix, &names); err != nil {
		if errors.Is(err, os.ErrNotExist) && names == nil {
			return nil, nil
		}
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func (s *LocalStore) walk(ctx context.Context, dir, rel, prefix string, names *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		name := path.Join(rel, e.Name())
		if e.IsDir() {
			// Skip subtrees that cannot contain a match.
			if !strings.HasPrefix(name+"/", prefix) && !strings.HasPrefix(prefix, name+"/") {
				continue
			}
			if err := s.walk(ctx, filepath.Join(dir, e.Name()), name, prefix, names); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(name, prefix) {
			*names = append(*names, name)
		}
	}
	return nil
}

type localBlob struct {
	f    fs.File
	size int64
}

func (b *localBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 || off >= b.size {
		return 0, io.EOF
	}
	return b.f.ReadAt(p, off)
}

func (b *localBlob) Close() error { return b.f.Close() }

func (b *localBlob) Size() int64 { return b.size }

type localWriter struct {
	fs     fs.FileSystem
	f      fs.File
	target string
	closed bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.f.Write(p)
}

func (w *localWriter) Sync() error {
	return w.f.Sync()
}

// Close syncs the temporary file, renames it over the target and syncs the
// directory. On failure the temporary file is removed and the target keeps
// its previous content.
func (w *localWriter) Close() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	w.closed = true

	tmp := w.f.Name()
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = w.fs.Remove(tmp)
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = w.fs.Remove(tmp)
		return err
	}
	if err := w.fs.Rename(tmp, w.target); err != nil {
		_ = w.fs.Remove(tmp)
		return err
	}
	return fs.SyncDir(w.fs, filepath.Dir(w.target))
}

// Abort removes the temporary file; the target is untouched.
func (w *localWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.f.Close()
	return w.fs.Remove(w.f.Name())
}
