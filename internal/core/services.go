package core

// Names of the services pkg/app publishes before modules are loaded.
const (
	ServiceCredentials = "security.credentials"
	ServiceRedactor    = "security.redactor"
	ServiceAudit       = "security.audit"
	ServiceGateway     = "gateway"
	ServiceStore       = "access.store"
	ServiceRouter      = "router"
	ServiceInbox       = "channel.inbox"
	ServiceRegisterer  = "metrics.registerer"
	ServiceWebhooks    = "server.webhooks"
)
