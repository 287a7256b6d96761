// Package killer keeps a registry of cancel procedures keyed by opaque tokens,
// so a caller can cancel an in-flight operation without holding a reference to it.
package killer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/errs"
)

// Registry misuse errors
var (
	ErrDuplicateToken = errors.New("killing token has been used")
	ErrUnknownToken   = errors.New("killing token is unknown")
)

// Token identifies one registered cancel procedure. The zero Token is invalid.
type Token struct {
	id uuid.UUID
}

// IsZero reports whether t was never minted.
func (t Token) IsZero() bool {
	return t.id == uuid.Nil
}

func (t Token) String() string {
	return t.id.String()
}

// Killer maps tokens to cancel procedures.
type Killer struct {
	mu      sync.Mutex
	killers map[Token]func()
	log     *zap.Logger
}

// New creates an empty registry.
func New(log *zap.Logger) *Killer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Killer{
		killers: make(map[Token]func()),
		log:     log,
	}
}

// GenToken mints a token that is unique for the lifetime of the process.
func (k *Killer) GenToken() Token {
	return Token{id: uuid.New()}
}

// Sign registers fn under a freshly minted token and returns it.
func (k *Killer) Sign(fn func()) (Token, error) {
	token := k.GenToken()
	if err := k.SignWith(token, fn); err != nil {
		return Token{}, err
	}
	return token, nil
}

// SignWith registers fn under token.
func (k *Killer) SignWith(token Token, fn func()) error {
	if token.IsZero() {
		return errs.Validation("token", "killing token is invalid")
	}
	if fn == nil {
		return errs.Validation("fn", "cancel procedure is not a function")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.killers[token]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, token)
	}

	k.killers[token] = fn
	k.log.Debug("cancel procedure signed", zap.Stringer("token", token))
	return nil
}

// Kill invokes and removes the procedure registered under token.
// Unknown tokens are ignored.
func (k *Killer) Kill(token Token) {
	k.mu.Lock()
	fn, ok := k.killers[token]
	delete(k.killers, token)
	k.mu.Unlock()

	if !ok {
		return
	}

	k.log.Debug("killing", zap.Stringer("token", token))
	fn()
}

// Has reports whether token is registered.
func (k *Killer) Has(token Token) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.killers[token]
	return ok
}

// Get returns the procedure registered under token.
func (k *Killer) Get(token Token) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	fn, ok := k.killers[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return fn, nil
}

// Del removes token without invoking its procedure.
func (k *Killer) Del(token Token) {
	k.mu.Lock()
	delete(k.killers, token)
	k.mu.Unlock()
}

// Len returns the number of registered tokens.
func (k *Killer) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.killers)
}
