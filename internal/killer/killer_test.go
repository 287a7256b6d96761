package killer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stefando/resumableupload/internal/errs"
)

func TestKiller_SignAndKill(t *testing.T) {
	req := require.New(t)
	k := New(nil)

	calls := 0
	token := k.GenToken()
	req.NoError(k.SignWith(token, func() { calls++ }))
	req.True(k.Has(token))

	k.Kill(token)
	req.Equal(1, calls)
	req.False(k.Has(token))

	// second kill is a no-op
	k.Kill(token)
	req.Equal(1, calls)
}

func TestKiller_DuplicateToken(t *testing.T) {
	req := require.New(t)
	k := New(nil)

	token := k.GenToken()
	req.NoError(k.SignWith(token, func() {}))

	err := k.SignWith(token, func() {})
	req.Error(err)
	req.True(errors.Is(err, ErrDuplicateToken))
	req.Equal(1, k.Len())
}

func TestKiller_Validation(t *testing.T) {
	req := require.New(t)
	k := New(nil)

	err := k.SignWith(Token{}, func() {})
	req.True(errs.IsValidation(err))

	err = k.SignWith(k.GenToken(), nil)
	req.True(errs.IsValidation(err))
	req.Zero(k.Len())
}

func TestKiller_SignGeneratesToken(t *testing.T) {
	req := require.New(t)
	k := New(nil)

	a, err := k.Sign(func() {})
	req.NoError(err)
	b, err := k.Sign(func() {})
	req.NoError(err)

	req.False(a.IsZero())
	req.NotEqual(a, b)
	req.Equal(2, k.Len())
}

func TestKiller_GetAndDel(t *testing.T) {
	req := require.New(t)
	k := New(nil)

	_, err := k.Get(k.GenToken())
	req.True(errors.Is(err, ErrUnknownToken))

	called := false
	token, err := k.Sign(func() { called = true })
	req.NoError(err)

	fn, err := k.Get(token)
	req.NoError(err)
	fn()
	req.True(called)

	k.Del(token)
	req.False(k.Has(token))

	// unknown token is silently ignored
	k.Kill(k.GenToken())
}
