// Package vault maps opaque tokens to encrypted payment-method payloads. It
// exclusively owns its storage and its encryption key; no other component
// reads or writes token ciphertext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTokenNotFound = fmt.Errorf("token not found")
	ErrTokenExpired  = fmt.Errorf("token expired")
)

// KeyProvider supplies the vault's encryption key. Previous keys are only
// used to decrypt during a rotation window; new ciphertext always uses the
// active key.
type KeyProvider interface {
	Active() ([]byte, error)
	Previous() [][]byte
}

// StaticKeyProvider holds fixed keys in memory.
type StaticKeyProvider struct {
	key      []byte
	previous [][]byte
}

func NewStaticKeyProvider(key []byte, previous ...[]byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: key, previous: previous}
}

func (p *StaticKeyProvider) Active() ([]byte, error) {
	if len(p.key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes (got %d)", len(p.key))
	}
	return p.key, nil
}

func (p *StaticKeyProvider) Previous() [][]byte { return p.previous }

// Token is the caller-visible handle for a stored payload.
type Token struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type record struct {
	ciphertext []byte // nonce || sealed
	expiresAt  time.Time
	revoked    bool
}

type Vault struct {
	keys KeyProvider
	now  func() time.Time

	mu     sync.RWMutex
	tokens map[string]*record
}

func New(keys KeyProvider) *Vault {
	return &Vault{
		keys:   keys,
		now:    time.Now,
		tokens: make(map[string]*record),
	}
}

// SetClock replaces the vault's time source; for tests.
func (v *Vault) SetClock(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Tokenize encrypts the payload under the active key and stores it behind a
// freshly generated token identifier. ttl <= 0 means no expiry.
func (v *Vault) Tokenize(payload []byte, ttl time.Duration) (Token, error) {
	if len(payload) == 0 {
		return Token{}, fmt.Errorf("payload is required")
	}
	key, err := v.keys.Active()
	if err != nil {
		return Token{}, fmt.Errorf("active vault key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return Token{}, err
	}

	id := uuid.New().String()
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Token{}, fmt.Errorf("nonce: %w", err)
	}
	// The token ID is bound into the seal so ciphertext cannot be replayed
	// under a different token.
	sealed := gcm.Seal(nil, nonce, payload, []byte(id))

	rec := &record{ciphertext: append(nonce, sealed...)}
	if ttl > 0 {
		rec.expiresAt = v.now().Add(ttl)
	}

	v.mu.Lock()
	v.tokens[id] = rec
	v.mu.Unlock()

	return Token{ID: id, ExpiresAt: rec.expiresAt}, nil
}

// Resolve decrypts the payload for a token. Unknown and revoked tokens are
// indistinguishable to the caller.
func (v *Vault) Resolve(id string) ([]byte, error) {
	// Snapshot the record fields inside the critical section; Revoke mutates
	// the record concurrently.
	v.mu.RLock()
	rec, ok := v.tokens[id]
	var (
		revoked    bool
		expiresAt  time.Time
		ciphertext []byte
	)
	if ok {
		revoked = rec.revoked
		expiresAt = rec.expiresAt
		ciphertext = rec.ciphertext
	}
	v.mu.RUnlock()

	if !ok || revoked {
		return nil, ErrTokenNotFound
	}
	if !expiresAt.IsZero() && v.now().After(expiresAt) {
		return nil, ErrTokenExpired
	}

	key, err := v.keys.Active()
	if err != nil {
		return nil, fmt.Errorf("active vault key: %w", err)
	}
	payload, err := v.open(key, id, ciphertext)
	if err == nil {
		return payload, nil
	}
	// Rotation window: ciphertext written under a previous key.
	for _, prev := range v.keys.Previous() {
		if payload, perr := v.open(prev, id, ciphertext); perr == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("decrypting token payload: %w", err)
}

// Revoke destroys a token. Revoking an already-revoked or unknown token is a
// no-op; revocation is terminal.
func (v *Vault) Revoke(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rec, ok := v.tokens[id]; ok {
		rec.revoked = true
		rec.ciphertext = nil
	}
}

func (v *Vault) open(key []byte, id string, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, []byte(id))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes (got %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
