package bridge

import (
	"crypto/rand"
	"encoding/base64"
	"sync"

	"github.com/leeineian/haruka/sys"
)

const tokenBytes = 32

// Session is anything a token can point at. Entries whose session reports
// false are treated as gone.
type Session interface {
	Connected() bool
}

// Bridge maps opaque dashboard tokens to live sessions, one token per
// session.
type Bridge[S Session] struct {
	mu        sync.Mutex
	byToken   map[string]S
	bySession map[Session]string
	newToken  func() string
}

func New[S Session]() *Bridge[S] {
	return &Bridge[S]{
		byToken:   make(map[string]S),
		bySession: make(map[Session]string),
		newToken:  randomToken,
	}
}

func randomToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Register returns the session's token, minting one on first use.
func (b *Bridge[S]) Register(s S) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tok, ok := b.bySession[s]; ok {
		return tok
	}
	tok := b.newToken()
	for {
		if _, taken := b.byToken[tok]; !taken {
			break
		}
		tok = b.newToken()
	}
	b.byToken[tok] = s
	b.bySession[s] = tok
	sys.LogBridge("Registered dashboard token (%d active)", len(b.byToken))
	return tok
}

// Resolve looks a token up. A token of a dead session is evicted and
// reported as unknown.
func (b *Bridge[S]) Resolve(token string) (S, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero S
	s, ok := b.byToken[token]
	if !ok {
		return zero, false
	}
	if !s.Connected() {
		delete(b.byToken, token)
		delete(b.bySession, s)
		return zero, false
	}
	return s, true
}

// Adopt points an existing or revoked token at s. It fails when the token
// belongs to another live session or s already has a token.
func (b *Bridge[S]) Adopt(token string, s S) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if token == "" {
		return false
	}
	if _, ok := b.bySession[s]; ok {
		return false
	}
	if old, ok := b.byToken[token]; ok {
		if old.Connected() {
			return false
		}
		delete(b.bySession, old)
	}
	b.byToken[token] = s
	b.bySession[s] = token
	return true
}

func (b *Bridge[S]) Token(s S) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tok, ok := b.bySession[s]
	return tok, ok
}

func (b *Bridge[S]) Unregister(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.byToken[token]
	if !ok {
		return false
	}
	delete(b.byToken, token)
	delete(b.bySession, s)
	return true
}

func (b *Bridge[S]) UnregisterSession(s S) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, ok := b.bySession[s]
	if !ok {
		return false
	}
	delete(b.byToken, tok)
	delete(b.bySession, s)
	return true
}

func (b *Bridge[S]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byToken)
}
