// Package authtest provides Authenticator fakes for transport tests.
package authtest

import (
	"context"
	"encoding/json"

	"github.com/docfork/docfork-mcp/auth"
)

// Static accepts a fixed set of tokens, each mapped to a user id.
type Static struct {
	Tokens map[string]string
}

// NewStatic returns an authenticator accepting tok as userID.
func NewStatic(tok, userID string) *Static {
	return &Static{Tokens: map[string]string{tok: userID}}
}

// CheckAuthentication implements auth.Authenticator.
func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	uid, ok := s.Tokens[tok]
	if !ok || tok == "" {
		return nil, auth.ErrUnauthorized
	}
	return user{id: uid}, nil
}

type user struct{ id string }

func (u user) UserID() string { return u.id }

func (u user) Claims(ref any) error {
	b, err := json.Marshal(map[string]any{"sub": u.id})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
