package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// ErrSecretNotFound is returned by Get and Delete for unknown names.
var ErrSecretNotFound = errors.New("secret not found")

// secretFile is the on-disk envelope. The payload is a JSON map of
// name to value, AES-256-GCM encrypted with a scrypt-derived key.
type secretFile struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SecretStore persists named credentials to a single 0600 file.
type SecretStore struct {
	mu      sync.Mutex
	path    string
	key     []byte
	salt    []byte
	secrets map[string]string
}

// OpenSecretStore loads (or initializes) the store at path, deriving the
// encryption key from the passphrase. A wrong passphrase fails decryption.
func OpenSecretStore(path, passphrase string) (*SecretStore, error) {
	s := &SecretStore{path: path, secrets: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.salt = make([]byte, 16)
		if _, err := rand.Read(s.salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if s.key, err = deriveKey(passphrase, s.salt); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	var f secretFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}
	if s.salt, err = base64.StdEncoding.DecodeString(f.Salt); err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	if s.key, err = deriveKey(passphrase, s.salt); err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := decrypt(s.key, nonce, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}
	if err := json.Unmarshal(plaintext, &s.secrets); err != nil {
		return nil, fmt.Errorf("parse secrets payload: %w", err)
	}
	return s, nil
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// save rewrites the whole file atomically with mode 0600.
func (s *SecretStore) save() error {
	plaintext, err := json.Marshal(s.secrets)
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out, err := json.MarshalIndent(secretFile{
		Salt:       base64.StdEncoding.EncodeToString(s.salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write secrets file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Set stores or replaces a named secret.
func (s *SecretStore) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
	return s.save()
}

// Get returns a named secret.
func (s *SecretStore) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.secrets[name]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Delete removes a named secret.
func (s *SecretStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[name]; !ok {
		return ErrSecretNotFound
	}
	delete(s.secrets, name)
	return s.save()
}

// Names lists stored secret names in sorted order, never values.
func (s *SecretStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
