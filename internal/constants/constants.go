package constants

import (
	"time"
)

// Workflow timing
const (
	// Mandatory waiting window between trustee quorum and the access grant,
	// during which the owner can cancel. Overridable per-deploy via the
	// grace_period_days flag.
	DefaultGracePeriodDays = 7

	// How long a granted bearer token stays valid. Expiry is absolute,
	// not sliding; there is no automatic renewal.
	DefaultAccessValidityDays = 30

	// Trustee confirm links go stale after this long without a response.
	ConfirmationTokenTTL = 30 * 24 * time.Hour
)

// Sweep cadence (cron specs wired in main)
const (
	GracePeriodSweepSpec = "@every 5m"
	GrantExpirySweepSpec = "@every 10m"
)

// Trustee fan-out
const (
	ConfirmTokenBytes = 32
	AccessTokenBytes  = 32
)
