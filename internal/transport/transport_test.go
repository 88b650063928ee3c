package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

func TestKindFromStringRoundTrips(t *testing.T) {
	for k := domerr.Internal; k <= domerr.AttestationFailed; k++ {
		require.Equal(t, k, kindFromString(k.String()))
	}
}

func TestKindFromStringUnknownFallsBackToInternal(t *testing.T) {
	require.Equal(t, domerr.Internal, kindFromString("NotARealKind"))
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	env := Envelope{Method: "get_task", Payload: json.RawMessage(`{"task_id":"task-1"}`)}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, env.Method, decoded.Method)
	require.JSONEq(t, string(env.Payload), string(decoded.Payload))
}
