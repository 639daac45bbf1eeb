package pipeline

import "errors"

// Sentinel errors for invocation-level failures.
//
// Item-level failures (bad encoding, a rejected record) never surface here.
// They are folded into the BatchOutcome so the rest of the batch keeps going.
var (
	// ErrSessionClose indicates the ingestion session failed to close cleanly.
	// The invocation is reported as failed even when the unacknowledged backlog
	// was recovered, so the upstream trigger still applies its redelivery
	// policy.
	ErrSessionClose = errors.New("ingestion session close failed")

	// ErrRecovery indicates the recovery procedure itself failed: the
	// unacknowledged backlog could not be retrieved, the replacement session
	// could not be opened, or resubmitted records failed again. Kept distinct
	// from ErrSessionClose so operators can tell "lost records, recovery also
	// failed" from "recovered cleanly but the original close still failed".
	ErrRecovery = errors.New("ingestion recovery failed")

	// ErrDeadlineReached indicates the invocation deadline expired before the
	// session was closed. The in-progress session is abandoned and no recovery
	// is attempted past the execution window.
	ErrDeadlineReached = errors.New("invocation deadline reached")
)
