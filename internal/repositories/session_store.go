package repositories

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// SessionStore persists the current session token between CLI runs.
type SessionStore interface {
	Load() (*models.SessionToken, error)
	Save(tok *models.SessionToken) error
	Clear() error
}

type sealedSession struct {
	Salt string `json:"salt"`
	Data string `json:"data"`
}

// FileSessionStore keeps the token AES-GCM encrypted on disk under a key
// derived from a passphrase. A fresh salt is drawn on every save.
type FileSessionStore struct {
	path       string
	passphrase string
}

func NewFileSessionStore(path, passphrase string) *FileSessionStore {
	return &FileSessionStore{path: path, passphrase: passphrase}
}

// Load returns nil, nil when no session has been saved.
func (s *FileSessionStore) Load() (*models.SessionToken, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sealed sealedSession
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("session file %s is corrupt: %w", s.path, err)
	}
	salt, err := base64.StdEncoding.DecodeString(sealed.Salt)
	if err != nil {
		return nil, fmt.Errorf("session file %s is corrupt: %w", s.path, err)
	}
	key, err := utils.DeriveKey(s.passphrase, salt)
	if err != nil {
		return nil, err
	}
	plain, err := utils.Decrypt(key, sealed.Data)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt session file: %w", err)
	}

	var tok models.SessionToken
	if err := json.Unmarshal([]byte(plain), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *FileSessionStore) Save(tok *models.SessionToken) error {
	if tok == nil {
		return s.Clear()
	}
	salt, err := utils.NewKeySalt()
	if err != nil {
		return err
	}
	key, err := utils.DeriveKey(s.passphrase, salt)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	data, err := utils.Encrypt(key, string(plain))
	if err != nil {
		return err
	}
	out, err := json.Marshal(sealedSession{
		Salt: base64.StdEncoding.EncodeToString(salt),
		Data: data,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileSessionStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
