package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenStore keeps the tokens between CLI invocations.
type TokenStore interface {
	Load() (Tokens, error)
	Save(Tokens) error
}

type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens Tokens
}

func (m *MemoryTokenStore) Load() (Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, nil
}

func (m *MemoryTokenStore) Save(t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = t
	return nil
}

// FileTokenStore stores tokens as JSON with owner-only permissions. A missing
// file loads as empty tokens.
type FileTokenStore struct {
	Path string
}

// DefaultTokenPath is ~/.config/pagelens/tokens.json.
func DefaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "pagelens", "tokens.json")
}

func (f FileTokenStore) Load() (Tokens, error) {
	var t Tokens
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return t, fmt.Errorf("read tokens: %w", err)
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("parse tokens %s: %w", f.Path, err)
	}
	return t, nil
}

func (f FileTokenStore) Save(t Tokens) error {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	return os.WriteFile(f.Path, raw, 0o600)
}
