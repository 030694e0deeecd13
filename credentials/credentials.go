// Package credentials stores the Analysis Service API token in
// ~/.redact/credentials.yaml, encrypted at rest with AES-256-GCM.
//
// The encryption key comes from REDACT_ENCRYPTION_KEY when set, otherwise
// from the system keyring (macOS Keychain, Windows Credential Manager, Linux
// Secret Service). On hosts without a keyring, REDACT_PASSPHRASE derives the
// key with Argon2id.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".redact"
	DefaultCredentialsFile = "credentials.yaml"
	saltFile               = "credentials.salt"

	// EnvToken overrides the stored token without touching the file.
	EnvToken = "REDACT_API_TOKEN"

	envConfigDir = "REDACT_CONFIG_DIR"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials holds the stored analyzer credentials.
type Credentials struct {
	// AnalyzerToken is sent as a bearer token (encrypted at rest).
	AnalyzerToken string `yaml:"analyzer_token"`
	// AnalyzerURL records which service the token was issued for.
	AnalyzerURL string `yaml:"analyzer_url,omitempty"`
	// LastUpdated is when the credentials were last saved.
	LastUpdated time.Time `yaml:"last_updated"`
}

// Source describes where an active token came from.
type Source string

const (
	SourceEnv   Source = "environment"
	SourceStore Source = "credentials file"
)

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a credential store in the default directory using the
// default key provider.
func NewStore() (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	keyProvider, err := DefaultKeyProvider(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(dir, keyProvider)
}

// NewStoreWithKeyProvider creates a credential store in dir with a custom
// key provider.
func NewStoreWithKeyProvider(dir string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// CredentialsDir returns the credentials directory path.
// Uses $REDACT_CONFIG_DIR if set, otherwise ~/.redact
func CredentialsDir() (string, error) {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// CredentialsPath returns the full path to the credentials file.
func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// KeyDescription describes where the encryption key is kept.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// Path returns the credentials file path.
func (s *Store) Path() string {
	return filepath.Join(s.credentialsDir, DefaultCredentialsFile)
}

// Save stores credentials to the credentials file.
func (s *Store) Save(creds *Credentials) error {
	if creds == nil || creds.AnalyzerToken == "" {
		return errors.New("analyzer token is required")
	}
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	storageCreds := *creds
	storageCreds.LastUpdated = time.Now()

	encrypted, err := s.encrypt(storageCreds.AnalyzerToken)
	if err != nil {
		return fmt.Errorf("encrypting analyzer token: %w", err)
	}
	storageCreds.AnalyzerToken = encrypted

	data, err := yaml.Marshal(&storageCreds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	// Write with restrictive permissions
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}

	return nil
}

// Load reads credentials from the credentials file.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if creds.AnalyzerToken == "" {
		return nil, ErrNoCredentials
	}

	token, err := s.decrypt(creds.AnalyzerToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting analyzer token: %w", err)
	}
	creds.AnalyzerToken = token

	return &creds, nil
}

// Delete removes stored credentials.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists checks if credentials file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// ActiveToken returns the token to send to the analyzer. REDACT_API_TOKEN
// wins over the stored token. A missing token is not an error: the analyzer
// may not require one.
func (s *Store) ActiveToken() (string, Source, error) {
	if token := os.Getenv(EnvToken); token != "" {
		return token, SourceEnv, nil
	}

	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return creds.AnalyzerToken, SourceStore, nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := newGCM(s.encryptionKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	gcm, err := newGCM(s.encryptionKey)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// MaskToken returns a masked token with first/last few characters visible.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}
