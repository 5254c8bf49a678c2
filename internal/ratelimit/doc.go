// Package ratelimit provides per-user sliding-window admission control
// for the preview endpoint.
package ratelimit
