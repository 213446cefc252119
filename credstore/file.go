package credstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	storeDirMode  = 0o700
	storeFileMode = 0o600

	documentVersion = 1
	saltSize        = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrDecrypt is returned when a sealed credential cannot be opened, usually a wrong passphrase.
var ErrDecrypt = errors.New("credential could not be decrypted")

type document struct {
	Version int               `toml:"version"`
	Key     string            `toml:"key"`
	SavedAt time.Time         `toml:"saved_at"`
	Sealed  *sealed           `toml:"sealed,omitempty"`
	Session *sessions.Session `toml:"session,omitempty"`
}

type sealed struct {
	Salt       string `toml:"salt"`
	Nonce      string `toml:"nonce"`
	Ciphertext string `toml:"ciphertext"`
}

type fileStore struct {
	path       string
	key        string
	passphrase string
	nowFunc    func() time.Time
	mu         sync.RWMutex
}

var _ Store = (*fileStore)(nil)

// NewFile stores the credential as a TOML document at cfg.File.Path. With a
// passphrase the session is sealed with XChaCha20-Poly1305 under an Argon2id key.
func NewFile(cfg Config) (Store, error) {
	if cfg.File == nil || cfg.File.Path == "" {
		return nil, fmt.Errorf("credential file path required")
	}
	return &fileStore{
		path:       filepath.Clean(cfg.File.Path),
		key:        cfg.key(),
		passphrase: cfg.File.Passphrase,
		nowFunc:    time.Now,
	}, nil
}

func (s *fileStore) Load(ctx context.Context) (*sessions.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path)
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode credential file: %w", err)
	}
	if doc.Key != s.key {
		return nil, ErrNotFound
	}

	switch {
	case doc.Sealed != nil:
		return s.open(doc.Sealed)
	case doc.Session != nil:
		return doc.Session, nil
	default:
		return nil, ErrNotFound
	}
}

func (s *fileStore) Save(ctx context.Context, sess *sessions.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := document{
		Version: documentVersion,
		Key:     s.key,
		SavedAt: s.nowFunc().UTC(),
	}
	if s.passphrase != "" {
		box, err := s.seal(sess)
		if err != nil {
			return err
		}
		doc.Sealed = box
	} else {
		doc.Session = sess
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, data)
}

func (s *fileStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete credential file: %w", err)
	}
	return nil
}

func (s *fileStore) Close(context.Context) error {
	return nil
}

func (s *fileStore) seal(sess *sessions.Session) (*sealed, error) {
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &sealed{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, []byte(s.key))),
	}, nil
}

func (s *fileStore) open(box *sealed) (*sessions.Session, error) {
	if s.passphrase == "" {
		return nil, fmt.Errorf("%w: no passphrase configured", ErrDecrypt)
	}

	salt, err := base64.StdEncoding.DecodeString(box.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(box.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(box.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", ErrDecrypt)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(s.key))
	if err != nil {
		return nil, ErrDecrypt
	}

	var sess sessions.Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &sess, nil
}

func (s *fileStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey([]byte(s.passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), storeDirMode); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".credential-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(storeFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
