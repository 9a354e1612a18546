package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docfork/docfork-mcp/internal/jwtauth"
)

// JWTAuthenticator adapts a jwtauth.Validator to the Authenticator contract.
type JWTAuthenticator struct {
	v                *jwtauth.Validator
	requireSignature bool
}

// NewJWTAuthenticator returns an Authenticator backed by v. When
// requireSignature is set, tokens accepted only in unverified mode are
// rejected.
func NewJWTAuthenticator(v *jwtauth.Validator, requireSignature bool) *JWTAuthenticator {
	return &JWTAuthenticator{v: v, requireSignature: requireSignature}
}

// CheckAuthentication implements Authenticator.
func (a *JWTAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	res, err := a.v.Validate(ctx, tok, jwtauth.Options{RequireSignature: a.requireSignature})
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}
	if res.Unverified && a.requireSignature {
		return nil, fmt.Errorf("%w: token signature not verified", ErrUnauthorized)
	}
	return &userInfoAdapter{res: res}, nil
}

type userInfoAdapter struct{ res *jwtauth.Result }

func (u *userInfoAdapter) UserID() string { return u.res.Subject() }

func (u *userInfoAdapter) Claims(ref any) error {
	b, err := json.Marshal(u.res.Claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Unverified reports whether ui was accepted without signature verification.
func Unverified(ui UserInfo) bool {
	if a, ok := ui.(*userInfoAdapter); ok {
		return a.res.Unverified
	}
	return false
}
