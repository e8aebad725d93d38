// Package cache manages the upload cache directory: CACHE_DIR/{slug} holds
// the uploaded bytes, CACHE_DIR/{slug}.preview the generated preview and
// CACHE_DIR/temp scratch space for previewers.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BlakeRain/parcel-sub000/internal/filex"
	"go.uber.org/multierr"
)

const (
	PreviewSuffix = ".preview"
	TempDirName   = "temp"
)

// ErrTooLarge is returned by Write when the body exceeds the size limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

type Store struct {
	dir     string
	tempDir string
}

// New creates the cache and temp directories when missing.
func New(dir string) (*Store, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	temp, err := filex.EnsureDir(filepath.Join(abs, TempDirName))
	if err != nil {
		return nil, fmt.Errorf("cache temp dir: %w", err)
	}
	return &Store{dir: abs, tempDir: temp}, nil
}

func (s *Store) Dir() string     { return s.dir }
func (s *Store) TempDir() string { return s.tempDir }

func (s *Store) Path(slug string) string {
	return filepath.Join(s.dir, slug)
}

func (s *Store) PreviewPath(slug string) string {
	return filepath.Join(s.dir, slug+PreviewSuffix)
}

// Write streams r into the file for slug and returns its size. With
// maxSize > 0, a body larger than maxSize fails with ErrTooLarge. On any
// error the partial file is removed.
func (s *Store) Write(slug string, r io.Reader, maxSize int64) (n int64, err error) {
	path := s.Path(slug)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if maxSize > 0 {
		n, err = io.Copy(f, io.LimitReader(r, maxSize+1))
		if err == nil && n > maxSize {
			err = ErrTooLarge
		}
		return n, err
	}
	return io.Copy(f, r)
}

// Exists reports whether the upload file for slug is present.
func (s *Store) Exists(slug string) bool {
	_, err := os.Stat(s.Path(slug))
	return err == nil
}

// Rename moves the upload file, and its preview if any, to a new slug.
func (s *Store) Rename(oldSlug, newSlug string) error {
	if err := os.Rename(s.Path(oldSlug), s.Path(newSlug)); err != nil {
		return err
	}
	err := os.Rename(s.PreviewPath(oldSlug), s.PreviewPath(newSlug))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return multierr.Append(err, os.Rename(s.Path(newSlug), s.Path(oldSlug)))
	}
	return nil
}

// Copy duplicates the upload file, and its preview if any, under a new slug.
func (s *Store) Copy(oldSlug, newSlug string) error {
	if _, err := filex.CopyFile(s.Path(oldSlug), s.Path(newSlug)); err != nil {
		return err
	}
	_, err := filex.CopyFile(s.PreviewPath(oldSlug), s.PreviewPath(newSlug))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		_, undoErr := filex.RemoveIfExists(s.Path(newSlug))
		return multierr.Append(err, undoErr)
	}
	return nil
}

// Remove deletes the upload file and its preview. Missing files are not an
// error.
func (s *Store) Remove(slug string) error {
	_, err1 := filex.RemoveIfExists(s.Path(slug))
	_, err2 := filex.RemoveIfExists(s.PreviewPath(slug))
	return multierr.Append(err1, err2)
}

// RemoveAll removes the files of every slug, collecting all errors.
func (s *Store) RemoveAll(slugs []string) error {
	var err error
	for _, slug := range slugs {
		err = multierr.Append(err, s.Remove(slug))
	}
	return err
}

// Entry is one file in the cache directory.
type Entry struct {
	Name string
	Slug string
	Size int64
}

// BaseSlug strips the preview suffix from a cache file name.
func BaseSlug(name string) string {
	return strings.TrimSuffix(name, PreviewSuffix)
}

// Entries lists the regular files in the cache directory. Subdirectories
// (temp) are skipped.
func (s *Store) Entries() ([]Entry, error) {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		entries = append(entries, Entry{Name: de.Name(), Slug: BaseSlug(de.Name()), Size: info.Size()})
	}
	return entries, nil
}

// RemoveFile deletes one cache entry by file name.
func (s *Store) RemoveFile(name string) error {
	_, err := filex.RemoveIfExists(filepath.Join(s.dir, name))
	return err
}
