// Package auth resolves the credentials forwarded to the Docfork backend and
// authenticates bearer tokens on the OAuth-protected MCP endpoint.
//
// Credentials are merged by a Resolver from three sources, highest precedence
// first: command-line flags (stdio launches only), environment variables and
// request headers. The resolved Config is attached to the request context
// with WithConfig and read back with FromContext by anything that calls the
// backend.
//
//	r := auth.Resolver{Env: auth.Source{APIKey: os.Getenv("DOCFORK_API_KEY")}}
//	cfg, err := r.Resolve(req.Header)
//	if errors.Is(err, auth.ErrConfig) { /* 400 */ }
//	ctx := auth.WithConfig(req.Context(), cfg)
//
// The OAuth endpoint uses an Authenticator. JWTAuthenticator wraps the
// internal JWT validator and reports failures wrapped in ErrUnauthorized.
package auth
