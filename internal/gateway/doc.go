// Package gateway wires the preview pipeline into a running service:
// the HTTP endpoint, authentication and rate limiting at the edge, the
// event-log store behind the preview service, and the Matrix sync feed
// that drives reactive cache invalidation.
package gateway
