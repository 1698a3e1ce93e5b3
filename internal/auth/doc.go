// Package auth authenticates chat API and live connection callers.
//
// # Tokens
//
// Callers present an HS256 JWT signed with the configured jwt_secret, either
// in the Authorization header or, for websocket upgrades, in the
// access_token query parameter. Tokens carry:
//
//   - sub: the user id
//   - name: display name (optional)
//   - roles: "customer", "admin" or "owner"
//
// Tokens are minted with JWTVerifier.Generate, e.g. by `shopchat token`.
//
// # Development Headers
//
// With auth.dev_headers enabled the middleware also trusts X-User-ID,
// X-User-Name and X-User-Role. Never enable this in production.
//
// # Context
//
// HTTPAuthMiddleware stores an AuthContext in the request context:
//
//	authCtx := auth.FromContext(r.Context())
//
// and upserts the caller into the user directory so messages carry their
// display name.
//
// # Claims
//
// RoleClaimAuthorizer restricts implicit conversation claims to admins when
// chat.restrict_claims is set.
package auth
