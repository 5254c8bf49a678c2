// Package config handles configuration loading for preview-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PREVIEW_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	ratelimit:
//	  burst_window: "60s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Event-log database:
//
//	database:
//	  path: "/var/lib/preview-gateway/events.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${PREVIEW_JWT_SECRET}"
//
// Preview pipeline:
//
//	preview:
//	  tracked_event_types:
//	    - "pangea.activity_plan"
//	    - "pangea.activity_roles"
//
// Rate limiting:
//
//	ratelimit:
//	  burst_window: "60s"
//	  requests_per_burst: 10
//
// Matrix sync feed (reactive cache invalidation):
//
//	matrix:
//	  enabled: true
//	  homeserver: "https://matrix.example.com"
//	  user_id: "@preview:example.com"
//	  access_token: "${MATRIX_ACCESS_TOKEN}"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "preview-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
