// Package auth authenticates slotchat API requests.
//
// # Tokens
//
// Users sign in with an external identity provider. The gateway only verifies
// the resulting JWT and takes its "sub" claim as the uid:
//
//   - HS256: shared secret from auth.jwt_secret (also used by `slotchat token`)
//   - RS256: provider public key from auth.public_key_file
//
// Optional auth.issuer and auth.audience add "iss"/"aud" checks.
//
// # HTTP
//
// HTTPAuthMiddleware rejects requests without a valid bearer token (401) and
// stores the subject in the request context. Handlers call ResolveUID to
// reconcile a uid sent in the body or query with the subject:
//
//	uid, err := auth.ResolveUID(r.Context(), req.UID)
//	if errors.Is(err, auth.ErrUIDMismatch) { ... 403 ... }
//
// When no verifier is configured the middleware is not installed and
// ResolveUID returns the requested uid unchanged.
package auth
