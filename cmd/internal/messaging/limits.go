package messaging

import "time"

// Engine limits and timing defaults.
const (
	// Max message body length (runes) when no richer validator is configured.
	maxBodyChars = 1000

	// Consecutive fetch failures before the poller reports disconnected.
	maxPollFailures = 3

	// Reconnection backoff bounds: delay = min(backoffBase << (failures-maxPollFailures), backoffCap).
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second

	// Max attempts for one pending send (initial try + manual retries).
	maxSendAttempts = 3
)

const (
	// Poll cadence while connected.
	defaultPollInterval = 5 * time.Second

	// Per-user send rate limits (events per window).
	rateLimitEvents = 10
	rateLimitWindow = 1 * time.Minute

	// Cache defaults.
	defaultCacheMaxAge     = 5 * time.Minute
	defaultCacheMaxEntries = 64
	defaultCacheMaxBytes   = 1 << 20 // 1 MiB of encoded snapshots
)
