package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Store persists session state. Load returns (nil, nil) when no session has
// been saved yet; a decode failure is an error the caller downgrades to
// "no session" rather than a fatal fault.
type Store interface {
	Load() (*State, error)
	Save(*State) error
}

// FileStore keeps the session in a JSON file with 0600 permissions.
// With a key configured the payload is sealed with XChaCha20-Poly1305;
// cookies are credentials and only stay plaintext when no key is given.
type FileStore struct {
	path string
	key  []byte
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithKey enables at-rest encryption. The key must be 32 bytes.
func WithKey(key []byte) FileOption {
	return func(s *FileStore) { s.key = key }
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	s := &FileStore{path: path}
	for _, o := range opts {
		o(s)
	}
	if s.key != nil && len(s.key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("session: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(s.key))
	}
	return s, nil
}

// Load reads the session file. A missing file is (nil, nil).
func (s *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", s.path, err)
	}

	if s.key != nil {
		data, err = s.open(data)
		if err != nil {
			return nil, fmt.Errorf("session: decrypt %s: %w", s.path, err)
		}
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("session: parse %s: %w", s.path, err)
	}
	return &st, nil
}

// Save writes the session file, creating parent directories as needed.
func (s *FileStore) Save(st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if s.key != nil {
		data, err = s.seal(data)
		if err != nil {
			return fmt.Errorf("session: encrypt: %w", err)
		}
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("session: create dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("payload too short")
	}
	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, box, nil)
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu    sync.Mutex
	state *State
}

func (m *MemStore) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemStore) Save(st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	return nil
}
