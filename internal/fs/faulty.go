package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the error a Fault returns when Err is nil.
var ErrInjected = errors.New("injected fault")

// Fault describes how operations on matching files fail.
type Fault struct {
	// FailAfterBytes fails writes that would take the file past this many
	// bytes. Negative disables the limit.
	FailAfterBytes int64
	FailOnSync     bool
	FailOnClose    bool
	// FailOnRename fails renames whose target matches.
	FailOnRename bool
	Err          error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// NoFault never fails.
var NoFault = Fault{FailAfterBytes: -1}

type rule struct {
	pattern string
	fault   Fault
}

// FaultyFS wraps a FileSystem and injects the faults of the last rule whose
// pattern is contained in the file name.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules []rule
}

// NewFaultyFS wraps fsys, or Default if nil.
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{FS: fsys}
}

// AddRule injects fault into files whose name contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{pattern: pattern, fault: fault})
}

// Reset removes all rules.
func (f *FaultyFS) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

func (f *FaultyFS) match(name string) Fault {
	f.mu.Lock()
	defer f.mu.Unlock()

	fault := NoFault
	for _, r := range f.rules {
		if strings.Contains(name, r.pattern) {
			fault = r.fault
		}
	}
	return fault
}

func (f *FaultyFS) wrap(file File, err error) (File, error) {
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f}, nil
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return f.wrap(f.FS.OpenFile(name, flag, perm))
}

func (f *FaultyFS) CreateTemp(dir, pattern string) (File, error) {
	return f.wrap(f.FS.CreateTemp(dir, pattern))
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if fault := f.match(newpath); fault.FailOnRename {
		return fault.err()
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Remove(name string) error                     { return f.FS.Remove(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.FS.MkdirAll(path, perm) }
func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error)   { return f.FS.ReadDir(name) }

// faultyFile looks its fault up on every call, so rules added after a file
// was opened still apply.
type faultyFile struct {
	File
	fs      *FaultyFS
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	fault := ff.fs.match(ff.Name())
	if fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > fault.FailAfterBytes {
		return 0, fault.err()
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if fault := ff.fs.match(ff.Name()); fault.FailOnSync {
		return fault.err()
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	err := ff.File.Close()
	if fault := ff.fs.match(ff.Name()); fault.FailOnClose {
		return fault.err()
	}
	return err
}
