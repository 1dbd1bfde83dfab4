package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	chatports "github.com/ZanzyTHEbar/contextual-chat/ctxchat/chat/ports"

	"github.com/spf13/afero"
)

const (
	contextFileExt = ".json"

	// Encoded names longer than this are replaced by a digest to stay under
	// the common 255-byte file name limit.
	maxEncodedNameLen = 200
	hashedNamePrefix  = "~" // outside the base64url alphabet
)

// FileContextStore keeps one JSON document per session in a directory.
// Writes go through a temp file and rename so readers never see a partial document.
type FileContextStore struct {
	storeBase

	fsMu sync.Mutex
	fs   afero.Fs
	dir  string
}

// NewFileContextStore creates the directory if needed and returns the store.
func NewFileContextStore(fsys afero.Fs, dir string, d chatports.Defaults) (*FileContextStore, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create context directory %s: %w", dir, err)
	}
	return &FileContextStore{
		storeBase: newStoreBase(d),
		fs:        fsys,
		dir:       dir,
	}, nil
}

// Get returns the context for key, creating and persisting it when absent.
func (s *FileContextStore) Get(ctx context.Context, key string) (*chatports.Context, error) {
	s.fsMu.Lock()
	defer s.fsMu.Unlock()

	c, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = s.Defaults().NewContext(key, s.clock())
		if err := s.write(c); err != nil {
			return nil, err
		}
		return c, nil
	}
	return s.present(c), nil
}

// Set writes c and refreshes its UpdatedAt.
func (s *FileContextStore) Set(ctx context.Context, c *chatports.Context) error {
	c.UpdatedAt = s.clock()

	s.fsMu.Lock()
	defer s.fsMu.Unlock()
	return s.write(c)
}

// Reset applies opts and clears the histories of key.
func (s *FileContextStore) Reset(ctx context.Context, key string, opts chatports.ResetOptions) error {
	s.fsMu.Lock()
	defer s.fsMu.Unlock()

	c, err := s.load(key)
	if err != nil {
		return err
	}
	now := s.clock()
	if c == nil {
		c = s.Defaults().NewContext(key, now)
	}
	opts.Apply(c)
	c.UpdatedAt = now
	return s.write(c)
}

// Remove deletes the document for key; unknown keys are ignored.
func (s *FileContextStore) Remove(ctx context.Context, key string) error {
	s.fsMu.Lock()
	defer s.fsMu.Unlock()

	if err := s.fs.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove context %q: %w", key, err)
	}
	return nil
}

// RemoveAll deletes every context document in the directory.
func (s *FileContextStore) RemoveAll(ctx context.Context) error {
	s.fsMu.Lock()
	defer s.fsMu.Unlock()

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("list contexts: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), contextFileExt) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *FileContextStore) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}

func fileName(key string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(key))
	if len(name) > maxEncodedNameLen {
		sum := sha256.Sum256([]byte(key))
		name = hashedNamePrefix + hex.EncodeToString(sum[:])
	}
	return name + contextFileExt
}

// load returns nil without error when key has no document.
func (s *FileContextStore) load(key string) (*chatports.Context, error) {
	data, err := afero.ReadFile(s.fs, s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read context %q: %w", key, err)
	}

	var c chatports.Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode context %q: %w", key, err)
	}
	if c.Key != "" && c.Key != key {
		return nil, fmt.Errorf("context file %s belongs to another key", fileName(key))
	}
	c.Key = key
	return &c, nil
}

func (s *FileContextStore) write(c *chatports.Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context %q: %w", c.Key, err)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, ".ctx-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write context %q: %w", c.Key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path(c.Key)); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("commit context %q: %w", c.Key, err)
	}
	return nil
}

var _ chatports.ContextStore = (*FileContextStore)(nil)
