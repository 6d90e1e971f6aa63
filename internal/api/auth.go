package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-roomrelay/internal/types"
)

const (
	tokenCookieKey = "token"
	tokenQueryKey  = "token"
	userIdQueryKey = "userId"
	usernameKey    = "username"
	userIdClaim    = "user-id"
	usernameClaim  = "username"
)

var errNoIdentity = errors.New("no identity supplied")

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

// identify resolves who is connecting. With a signing key only a valid
// token is accepted; without one the caller names itself in the query.
func (s *RelayApp) identify(r *http.Request) (types.User, error) {
	if len(s.signingKey) == 0 {
		user := types.User{
			Id:       r.URL.Query().Get(userIdQueryKey),
			Username: r.URL.Query().Get(usernameKey),
		}
		if user.Id == "" {
			return types.User{}, errNoIdentity
		}
		if user.Username == "" {
			user.Username = user.Id
		}
		return user, nil
	}

	tokenString := r.URL.Query().Get(tokenQueryKey)
	if cookie, err := r.Cookie(tokenCookieKey); err == nil {
		tokenString = cookie.Value
	}
	if tokenString == "" {
		return types.User{}, errNoIdentity
	}

	return s.userFromToken(tokenString)
}

func (s *RelayApp) userFromToken(tokenString string) (types.User, error) {
	token, err := s.verifyToken(tokenString)
	if err != nil {
		return types.User{}, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	var user types.User
	switch id := claims[userIdClaim].(type) {
	case string:
		user.Id = id
	case float64:
		user.Id = fmt.Sprintf("%.0f", id)
	}
	if user.Id == "" {
		return types.User{}, fmt.Errorf("invalid user id claim")
	}

	user.Username, _ = claims[usernameClaim].(string)
	if user.Username == "" {
		user.Username = user.Id
	}
	return user, nil
}

func (s *RelayApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}
