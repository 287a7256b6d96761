package sender

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/auth"
	"github.com/stefando/resumableupload/internal/errs"
)

// TokenFunc resolves the bearer token, passing extras to the getter.
type TokenFunc func(ctx context.Context, extras ...any) (string, error)

// FetchToken returns a memoizing token resolver. An unexpired cached token
// is returned as is. Otherwise a non-empty token wins, else getter is
// called and its result cached. A bare string result never expires from
// the cache's point of view, so it is fetched again next time.
func (s *Sender) FetchToken(token string, getter auth.Getter) TokenFunc {
	return func(ctx context.Context, extras ...any) (string, error) {
		s.mu.Lock()
		if s.destroyed {
			s.mu.Unlock()
			return "", errs.ErrUseAfterDestroy
		}
		if s.token != "" && s.tokenExpire > s.now().Unix() {
			cached := s.token
			s.mu.Unlock()
			return cached, nil
		}
		if token != "" {
			s.token = token
			s.mu.Unlock()
			return token, nil
		}
		s.mu.Unlock()

		if getter == nil {
			return "", fmt.Errorf("%w: no token getter", errs.ErrTokenInvalid)
		}
		result, err := getter(ctx, extras...)
		if err != nil {
			return "", err
		}

		var fetched auth.Token
		switch v := result.(type) {
		case string:
			fetched = auth.Token{Value: v}
		case auth.Token:
			fetched = v
		case *auth.Token:
			if v == nil {
				return "", errs.ErrTokenInvalid
			}
			fetched = *v
		default:
			return "", fmt.Errorf("%w: getter returned %T", errs.ErrTokenInvalid, result)
		}
		if fetched.Value == "" {
			return "", fmt.Errorf("%w: empty token", errs.ErrTokenInvalid)
		}

		s.mu.Lock()
		s.token = fetched.Value
		s.tokenExpire = fetched.Expire
		s.mu.Unlock()

		s.log.Debug("token refreshed", zap.Int64("expire", fetched.Expire))
		return fetched.Value, nil
	}
}
