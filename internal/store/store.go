// Package store is the local content store. It places finished uploads under
// a fixed root without ever overwriting an existing file.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
)

var log = logging.Logger("store")

const (
	dirPerm  = 0o755
	filePerm = 0o644

	stagingDir = "/.staging"
)

// Store persists files by relative path under the root of fs
type Store struct {
	fs    afero.Fs
	locks *lockMap
}

// New returns a store whose root is the root of fs
func New(fs afero.Fs) *Store {
	return &Store{fs: fs, locks: newLockMap()}
}

// NewOS returns a store rooted at root on the local filesystem, creating it
// if necessary
func NewOS(root string) (*Store, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("%w: failed to create root %s: %w", ErrStorageUnavailable, root, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// resolve maps a caller path onto an absolute path within fs
func resolve(p string) (string, error) {
	clean := strings.TrimLeft(filepath.Clean(p), "/")
	if clean == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return "/" + clean, nil
}

// display converts an internal path back to the relative form callers use
func display(full string) string {
	return strings.TrimPrefix(full, "/")
}

func unavailable(op, p string, err error) error {
	return fmt.Errorf("%w: failed to %s %s: %w", ErrStorageUnavailable, op, display(p), err)
}

// Exists reports whether p names an existing entry. Any error reads as absent.
func (s *Store) Exists(p string) bool {
	full, err := resolve(p)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, full)
	return err == nil && ok
}

// Upload writes data as a new file at p
func (s *Store) Upload(p string, data []byte) error {
	full, err := resolve(p)
	if err != nil {
		return err
	}
	return s.write(full, data)
}

// UploadUnique writes data at NewName(p) while holding the lock of p's
// directory, so concurrent callers never pick the same name. It returns the
// path that was written.
func (s *Store) UploadUnique(p string, data []byte) (string, error) {
	full, err := resolve(p)
	if err != nil {
		return "", err
	}

	unlock := s.locks.Lock(filepath.Dir(full))
	defer unlock()

	name, err := s.newName(full)
	if err != nil {
		return "", err
	}
	if err := s.write(name, data); err != nil {
		return "", err
	}
	return display(name), nil
}

func (s *Store) write(full string, data []byte) error {
	if ok, _ := afero.Exists(s.fs, full); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, display(full))
	}
	if err := s.fs.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return unavailable("create directory for", full, err)
	}

	// O_EXCL settles the race between the exists check and the create
	f, err := s.fs.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, display(full))
		}
		return unavailable("create", full, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		s.discard(full)
		return unavailable("write", full, err)
	}
	if err := f.Close(); err != nil {
		s.discard(full)
		return unavailable("close", full, err)
	}

	log.Debugw("stored file", "path", display(full), "size", len(data))
	return nil
}

func (s *Store) discard(full string) {
	if err := s.fs.Remove(full); err != nil {
		log.Warnf("failed to remove partial file %s: %v", display(full), err)
	}
}

// Download returns the contents of the file at p
func (s *Store) Download(p string) ([]byte, error) {
	full, err := resolve(p)
	if err != nil {
		return nil, err
	}
	if err := s.requireFile(full); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, full)
	if err != nil {
		return nil, unavailable("read", full, err)
	}
	return data, nil
}

func (s *Store) requireFile(full string) error {
	info, err := s.fs.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, display(full))
		}
		return unavailable("stat", full, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotFound, display(full))
	}
	return nil
}

// Delete removes the file at p along with every ancestor directory it leaves
// empty. The root is never removed.
func (s *Store) Delete(p string) error {
	full, err := resolve(p)
	if err != nil {
		return err
	}
	if err := s.requireFile(full); err != nil {
		return err
	}
	if err := s.fs.Remove(full); err != nil {
		return unavailable("remove", full, err)
	}

	s.prune(filepath.Dir(full))
	return nil
}

// Rename moves source to dest, creating dest's missing directories, then
// prunes the directories source leaves empty
func (s *Store) Rename(source, dest string) error {
	src, err := resolve(source)
	if err != nil {
		return err
	}
	dst, err := resolve(dest)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(filepath.Dir(dst))
	defer unlock()

	if err := s.move(src, dst); err != nil {
		return err
	}
	s.prune(filepath.Dir(src))
	return nil
}

// move must be called with the lock of dst's directory held
func (s *Store) move(src, dst string) error {
	if err := s.requireFile(src); err != nil {
		return err
	}
	if ok, _ := afero.Exists(s.fs, dst); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, display(dst))
	}
	if err := s.fs.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return unavailable("create directory for", dst, err)
	}
	if err := s.fs.Rename(src, dst); err != nil {
		return unavailable("rename", src, err)
	}
	return nil
}

// prune removes dir and its ancestors while they are empty, stopping below the root
func (s *Store) prune(dir string) {
	for dir != "/" && dir != "." {
		entries, err := afero.ReadDir(s.fs, dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := s.fs.Remove(dir); err != nil {
			log.Warnf("failed to prune directory %s: %v", display(dir), err)
			return
		}
		dir = filepath.Dir(dir)
	}
}

// NewName returns a path in p's directory that does not collide with any
// existing sibling. If p does not exist it is returned unchanged. Only the
// directory listing is read.
func (s *Store) NewName(p string) (string, error) {
	full, err := resolve(p)
	if err != nil {
		return "", err
	}
	name, err := s.newName(full)
	if err != nil {
		return "", err
	}
	return display(name), nil
}

func (s *Store) newName(full string) (string, error) {
	if ok, _ := afero.Exists(s.fs, full); !ok {
		return full, nil
	}

	dir := filepath.Dir(full)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return "", unavailable("list", dir, err)
	}

	siblings := make([]string, 0, len(entries))
	for _, e := range entries {
		siblings = append(siblings, e.Name())
	}
	return filepath.Join(dir, nextName(filepath.Base(full), siblings)), nil
}

// Stage opens a hidden scratch file for an upload whose final path is chosen
// when it is committed
func (s *Store) Stage() (*Staged, error) {
	unlock := s.locks.Lock(stagingDir)
	defer unlock()

	if err := s.fs.MkdirAll(stagingDir, dirPerm); err != nil {
		return nil, unavailable("create directory", stagingDir, err)
	}
	f, err := afero.TempFile(s.fs, stagingDir, "upload-*")
	if err != nil {
		return nil, unavailable("create staging file in", stagingDir, err)
	}
	return &Staged{store: s, file: f, name: f.Name()}, nil
}

// Staged is an upload in progress. Exactly one of Commit or Abort must be called.
type Staged struct {
	store *Store
	file  afero.File
	name  string
	size  int64
}

var _ io.Writer = (*Staged)(nil)

func (st *Staged) Write(p []byte) (int, error) {
	n, err := st.file.Write(p)
	st.size += int64(n)
	if err != nil {
		return n, unavailable("write", st.name, err)
	}
	return n, nil
}

// Size is the number of bytes written so far
func (st *Staged) Size() int64 {
	return st.size
}

// Abort drops the staged bytes
func (st *Staged) Abort() {
	st.file.Close()
	st.store.discard(st.name)
}

// Commit moves the staged bytes to a non-colliding name derived from dest and
// returns the path it was stored under
func (st *Staged) Commit(dest string) (string, error) {
	dst, err := resolve(dest)
	if err != nil {
		st.Abort()
		return "", err
	}
	if err := st.file.Close(); err != nil {
		st.store.discard(st.name)
		return "", unavailable("close", st.name, err)
	}

	unlock := st.store.locks.Lock(filepath.Dir(dst))
	defer unlock()

	final, err := st.store.newName(dst)
	if err == nil {
		err = st.store.move(st.name, final)
	}
	if err != nil {
		st.store.discard(st.name)
		return "", err
	}

	log.Debugw("committed upload", "path", display(final), "size", st.size)
	return display(final), nil
}
