package constants

// Static route constants
const (
	APIRoute   = "/api"
	APIV1Route = "/api/v1"
	// WebhookRoute receives payment provider callbacks and is exempt from the coarse API limiter.
	WebhookRoute = APIV1Route + "/webhooks/abacatepay"
	AdminRoute   = APIV1Route + "/admin"
	MetricsRoute = "/metrics"
	DocsRoute    = "/docs/api/"
)
