package keystore

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/frand"

	"wimble.dev/node/internal/crypto"
)

var ErrSessionNotFound = errors.New("keystore: unknown or expired session token")

type session struct {
	sealedSeed []byte
	nonce      [chacha20poly1305.NonceSize]byte
	expiresAt  time.Time
}

// SessionManager is the wallet's "single map, read-heavy, guarded" shared
// resource (§5) keyed by session token, supplementing spec.md's silence
// on the session type with the concrete owner original_source's
// WalletManagerImpl establishes (§13).
//
// Unlocked seeds are sealed at rest under a per-process ChaCha20-Poly1305
// key generated once at construction, so a session map dump (a crash
// report, a debugger attach) doesn't hand over plaintext key material
// directly — the process's own memory is still the trust boundary, this
// only raises the bar for casual inspection.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]session
	sealKey  [chacha20poly1305.KeySize]byte
}

func NewSessionManager() *SessionManager {
	sm := &SessionManager{sessions: make(map[string]session)}
	frand.Read(sm.sealKey[:])
	return sm
}

// Open seals seed under the manager's key and returns a fresh session
// token valid until ttl elapses.
func (sm *SessionManager) Open(seed []byte, ttl time.Duration) (string, error) {
	aead, err := chacha20poly1305.New(sm.sealKey[:])
	if err != nil {
		return "", err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	frand.Read(nonce[:])
	sealed := aead.Seal(nil, nonce[:], seed, nil)

	token := hex.EncodeToString(crypto.SecureRandomBytes(16))

	sm.mu.Lock()
	sm.sessions[token] = session{sealedSeed: sealed, nonce: nonce, expiresAt: time.Now().Add(ttl)}
	sm.mu.Unlock()
	return token, nil
}

// Lookup returns the unsealed seed for token, or ErrSessionNotFound if
// the token is unknown or has expired.
func (sm *SessionManager) Lookup(token string) ([]byte, error) {
	sm.mu.RLock()
	s, ok := sm.sessions[token]
	sm.mu.RUnlock()
	if !ok || time.Now().After(s.expiresAt) {
		return nil, ErrSessionNotFound
	}

	aead, err := chacha20poly1305.New(sm.sealKey[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, s.nonce[:], s.sealedSeed, nil)
}

// Close ends a session explicitly (wallet lock command), dropping its
// sealed seed from the map immediately rather than waiting for Sweep.
func (sm *SessionManager) Close(token string) {
	sm.mu.Lock()
	delete(sm.sessions, token)
	sm.mu.Unlock()
}

// Sweep evicts every session that expired as of now, returning the
// number removed. Callers run this on a periodic ticker; the map is
// otherwise unbounded if a wallet process is left running with clients
// that never explicitly Close their session.
func (sm *SessionManager) Sweep(now time.Time) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	n := 0
	for token, s := range sm.sessions {
		if now.After(s.expiresAt) {
			delete(sm.sessions, token)
			n++
		}
	}
	return n
}
