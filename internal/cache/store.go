package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/macfox/tokline/internal/fsutil"
)

type Kind string

const (
	KindDaily Kind = "daily"
	KindBlock Kind = "block"
	KindOAuth Kind = "oauth"
	KindWeb   Kind = "web"
)

func Kinds() []Kind {
	return []Kind{KindDaily, KindBlock, KindOAuth, KindWeb}
}

func ParseKind(raw string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown data kind %q", raw)
}

// Entry is the cached state of one data kind. Data is either a fully parsed
// value or nil; Timestamp is the epoch-ms of the last fetch attempt.
type Entry[T any] struct {
	Data           *T    `json:"data"`
	Timestamp      int64 `json:"timestamp"`
	TokenExpired   bool  `json:"tokenExpired,omitempty"`
	SessionExpired bool  `json:"sessionExpired,omitempty"`
}

func (e Entry[T]) At() time.Time {
	return time.UnixMilli(e.Timestamp)
}

type Store[T any] interface {
	// Load reports false when no entry exists yet.
	Load() (Entry[T], bool, error)
	Save(entry Entry[T]) error
	Reset() error
}

type MemoryStore[T any] struct {
	mu    sync.Mutex
	entry Entry[T]
	ok    bool
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{}
}

func (s *MemoryStore[T]) Load() (Entry[T], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry, s.ok, nil
}

func (s *MemoryStore[T]) Save(entry Entry[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = entry
	s.ok = true
	return nil
}

func (s *MemoryStore[T]) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = Entry[T]{}
	s.ok = false
	return nil
}

// FileStore persists one entry as JSON so consecutive processes share it.
type FileStore[T any] struct {
	path string
}

func NewFileStore[T any](dir string, kind Kind) *FileStore[T] {
	return &FileStore[T]{path: filepath.Join(dir, string(kind)+".json")}
}

func (s *FileStore[T]) Path() string {
	return s.path
}

func (s *FileStore[T]) Load() (Entry[T], bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry[T]{}, false, nil
		}
		return Entry[T]{}, false, fmt.Errorf("read cache file: %w", err)
	}
	var entry Entry[T]
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry[T]{}, false, fmt.Errorf("parse cache file %s: %w", s.path, err)
	}
	return entry, true, nil
}

func (s *FileStore[T]) Save(entry Entry[T]) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return fsutil.WriteFileAtomic(s.path, data, 0o600)
}

func (s *FileStore[T]) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}
