// Package auth validates session tokens and extracts the account identity
// every surface operates on behalf of.
package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// ScopeAuthoritative lets a session bypass sender checks on message
// mutations.
const ScopeAuthoritative = "message_authoritative"

// Session is one authenticated caller.
type Session struct {
	AccountID   string
	GamespaceID string
	Scopes      []string
}

func (s *Session) Authoritative() bool {
	return slices.Contains(s.Scopes, ScopeAuthoritative)
}

type claims struct {
	Account   string `json:"acc"`
	Gamespace string `json:"gsps"`
	Scopes    string `json:"scopes"`
	jwt.RegisteredClaims
}

// Verifier parses HMAC-signed session tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse validates the token signature and pulls the session out of the
// claims. Scopes are space-separated.
func (v *Verifier) Parse(token string) (*Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, model.WrapError(model.KindUnauthorized, err, "invalid session token")
	}
	if c.Account == "" || c.Gamespace == "" {
		return nil, model.NewError(model.KindUnauthorized, "incomplete session token")
	}

	return &Session{
		AccountID:   c.Account,
		GamespaceID: c.Gamespace,
		Scopes:      strings.Fields(c.Scopes),
	}, nil
}

// FromRequest authenticates an HTTP request: Authorization bearer header
// first, then the access_token query parameter (the WebSocket path, where
// headers are awkward for browser clients).
func (v *Verifier) FromRequest(r *http.Request) (*Session, error) {
	token := ""
	if header := r.Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return nil, model.NewError(model.KindUnauthorized, "missing session token")
	}
	return v.Parse(token)
}
