// Package auth provides bearer-token authentication for preview-gateway.
//
// Requests carry an HS256-signed JWT whose "sub" claim is the requesting
// Matrix user ID. The HTTP middleware verifies the token and attaches
// the user ID to the request context; handlers retrieve it with
// UserFromContext. Identity is only used to key the rate limiter; the
// service performs no room-level access control.
package auth
