// Package server provides the HTTP surface of relaybot: health and
// Prometheus endpoints, the webhook dispatcher used by channels in webhook
// mode, and a small read-only admin API. It binds to loopback by default.
package server
