// Package retry implements the CAS-retry policy spec §4.4 requires of
// every state-changing Management/Scheduler RPC: read, mutate, persist
// via compare-and-swap, and on a lost race (Stale) retry from a fresh
// read, making at most three attempts in all before giving up.
package retry

import (
	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/metrics"
)

// MaxAttempts bounds the total number of attempts, the first one
// included, that CAS makes before surfacing a Stale error.
const MaxAttempts = 3

// CAS runs attempt up to MaxAttempts times, treating a Stale domain
// error as retryable and anything else as final. attempt is
// responsible for its own read-modify-write cycle (it must re-read
// the entity on each call, since a prior attempt's read is now known
// stale).
func CAS(operation string, attempt func() error) error {
	var err error
	for i := 0; i < MaxAttempts; i++ {
		err = attempt()
		if err == nil {
			return nil
		}
		if !domerr.Is(err, domerr.Stale) {
			return err
		}
		metrics.CASRetriesTotal.WithLabelValues(operation).Inc()
	}
	metrics.CASExhaustedTotal.WithLabelValues(operation).Inc()
	return err
}
