package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("artifact not found")
var ErrInvalidKey = errors.New("invalid artifact key")

// validKeyPattern matches only ID-safe keys (no path traversal possible)
var validKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var validFormatPattern = regexp.MustCompile(`^[a-z0-9]{2,8}$`)

// stagingDirName holds in-progress writes. It lives under the store root so that
// publishing is a same-filesystem rename.
const stagingDirName = ".staging"

// FSStore implements Storage using a local directory. A file is visible under
// its final name only once it has been fully written and synced.
type FSStore struct {
	basePath string
	format   string
}

// NewFSStore creates a new directory-backed store for artifacts of the given format.
func NewFSStore(basePath, format string) (*FSStore, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if format == "" {
		format = DefaultFormat
	}
	if !validFormatPattern.MatchString(format) {
		return nil, fmt.Errorf("invalid audio format %q", format)
	}
	if err := os.MkdirAll(filepath.Join(basePath, stagingDirName), 0755); err != nil {
		return nil, err
	}
	return &FSStore{basePath: basePath, format: format}, nil
}

// Root returns the store directory.
func (s *FSStore) Root() string {
	return s.basePath
}

// Format returns the file extension (without dot) of stored artifacts.
func (s *FSStore) Format() string {
	return s.format
}

// ContentType returns the media type of stored artifacts.
func (s *FSStore) ContentType() string {
	return ContentTypeFor(s.format)
}

// FileName returns the artifact file name for key.
func (s *FSStore) FileName(key string) string {
	return key + "." + s.format
}

func (s *FSStore) validateKey(key string) error {
	if !validKeyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.basePath, s.FileName(key))
}

func (s *FSStore) stagingPath() string {
	return filepath.Join(s.basePath, stagingDirName)
}

// keyFromName maps a directory entry back to its key. Dot-files and files of
// another format are not artifacts.
func (s *FSStore) keyFromName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	key, ok := strings.CutSuffix(name, "."+s.format)
	if !ok || !validKeyPattern.MatchString(key) {
		return "", false
	}
	return key, true
}

// Put writes data to a private staging file and then renames it into place.
// Concurrent writers for the same key never observe each other's bytes; the
// last one to rename wins.
func (s *FSStore) Put(ctx context.Context, key string, data io.Reader) (*Artifact, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}

	tmp := filepath.Join(s.stagingPath(), key+"."+uuid.NewString()+".part")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(f, &contextReader{ctx: ctx, r: data}); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, err
	}

	a, err := s.commit(key, tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return a, nil
}

// Publish moves a fully written file at srcPath into the store under key.
// srcPath should live in a directory returned by StagingDir; if it lives on
// another filesystem the contents are copied through Put instead.
func (s *FSStore) Publish(ctx context.Context, key string, srcPath string) (*Artifact, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := syncFile(srcPath); err != nil {
		return nil, err
	}

	a, err := s.commit(key, srcPath)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return nil, err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	a, err = s.Put(ctx, key, src)
	if err != nil {
		return nil, err
	}
	os.Remove(srcPath)
	return a, nil
}

// commit stamps the staged file with the completion time and renames it over
// the final path.
func (s *FSStore) commit(key, staged string) (*Artifact, error) {
	now := time.Now()
	if err := os.Chtimes(staged, now, now); err != nil {
		return nil, err
	}

	final := s.path(key)
	if err := os.Rename(staged, final); err != nil {
		return nil, err
	}
	syncDir(s.basePath)

	info, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	return &Artifact{Key: key, Path: final, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Get returns the artifact stored under key.
func (s *FSStore) Get(ctx context.Context, key string) (*Artifact, error) {
	if err := s.validateKey(key); err != nil {
		return nil, err
	}
	p := s.path(key)
	size, modTime, err := Stat(p)
	if err != nil {
		return nil, err
	}
	return &Artifact{Key: key, Path: p, Size: size, ModTime: modTime}, nil
}

// Open opens the artifact stored under key for reading. The returned metadata
// describes the opened file, so a concurrent replace or remove does not affect it.
func (s *FSStore) Open(ctx context.Context, key string) (*os.File, *Artifact, error) {
	if err := s.validateKey(key); err != nil {
		return nil, nil, err
	}
	p := s.path(key)
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, &Artifact{Key: key, Path: p, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List returns the artifacts present when List is called. The directory is
// read once up front; each entry is stat'ed lazily as the sequence is consumed,
// and entries removed in the meantime are skipped.
func (s *FSStore) List(ctx context.Context) iter.Seq2[*Artifact, error] {
	entries, readErr := os.ReadDir(s.basePath)

	return func(yield func(*Artifact, error) bool) {
		if readErr != nil {
			yield(nil, readErr)
			return
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if e.IsDir() {
				continue
			}
			key, ok := s.keyFromName(e.Name())
			if !ok {
				continue
			}
			info, err := e.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				if !yield(nil, fmt.Errorf("stat %s: %w", e.Name(), err)) {
					return
				}
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}
			a := &Artifact{
				Key:     key,
				Path:    filepath.Join(s.basePath, e.Name()),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
			if !yield(a, nil) {
				return
			}
		}
	}
}

// Remove deletes the artifact stored under key. Removing a missing key is not an error.
func (s *FSStore) Remove(ctx context.Context, key string) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveExpired removes the artifact under key only if it is still expired at
// now. The file is moved aside before the check, so a copy republished after
// the caller listed it is put back rather than deleted. Reports whether the
// artifact was removed; a missing key is not an error.
func (s *FSStore) RemoveExpired(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	if err := s.validateKey(key); err != nil {
		return false, err
	}
	final := s.path(key)
	aside := filepath.Join(s.stagingPath(), key+"."+uuid.NewString()+".evict")
	err := os.Rename(final, aside)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	info, err := os.Stat(aside)
	if err != nil {
		return false, errors.Join(err, os.Rename(aside, final))
	}
	a := &Artifact{Key: key, Size: info.Size(), ModTime: info.ModTime()}
	if a.Expired(now, window) {
		// A leftover aside file is collected by CleanupStaging.
		os.Remove(aside)
		return true, nil
	}

	// Link refuses to replace a copy published while ours was aside.
	if err := os.Link(aside, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			os.Remove(aside)
			return false, nil
		}
		return false, os.Rename(aside, final)
	}
	os.Remove(aside)
	return false, nil
}

// StagingDir creates a private working directory for one extraction. Files
// written there can be handed to Publish. cleanup removes the directory and
// anything left in it.
func (s *FSStore) StagingDir(ctx context.Context) (string, func(), error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp(s.stagingPath(), "job-")
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// CleanupStaging removes staging entries last modified more than maxAge ago.
// With maxAge 0 every entry is removed, which is only safe before any
// extraction has started. Returns the number of entries removed.
func (s *FSStore) CleanupStaging(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.stagingPath())
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if maxAge > 0 && !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.stagingPath(), e.Name())); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// Stat returns the size and modification time of the regular file at path.
func Stat(path string) (int64, time.Time, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, time.Time{}, ErrNotFound
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	if !info.Mode().IsRegular() {
		return 0, time.Time{}, ErrNotFound
	}
	return info.Size(), info.ModTime(), nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
