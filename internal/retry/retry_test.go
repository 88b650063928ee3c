package retry

import (
	"testing"

	"github.com/stretchr/testify/require"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

func TestCASSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := CAS("op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestCASRetriesOnStaleThenSucceeds(t *testing.T) {
	calls := 0
	err := CAS("op", func() error {
		calls++
		if calls < 3 {
			return domerr.New(domerr.Stale, "op", "lost race")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestCASGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := CAS("op", func() error {
		calls++
		return domerr.New(domerr.Stale, "op", "lost race")
	})
	require.Error(t, err)
	require.Equal(t, domerr.Stale, domerr.KindOf(err))
	require.Equal(t, MaxAttempts, calls)
}

func TestCASDoesNotRetryNonStaleErrors(t *testing.T) {
	calls := 0
	err := CAS("op", func() error {
		calls++
		return domerr.New(domerr.PermissionDenied, "op", "nope")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
