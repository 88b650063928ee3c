package frontend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teaclave-sh/lifecycle/internal/accesscontrol"
	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/transport"
)

func TestDispatchUnknownMethodReturnsInvalidArgument(t *testing.T) {
	oracle := accesscontrol.NewInMemory(true)
	agent, _ := newTestAgent()
	g := &Gateway{oracle: oracle, agent: agent}
	l := NewListener(g, nil)

	reply := l.dispatch("alice", transport.Envelope{Method: "not_a_real_method"})

	require.NotEmpty(t, reply.Error)
	require.Equal(t, domerr.InvalidArgument.String(), reply.Kind)
}

func TestDispatchDeniedAccessPropagatesPermissionDenied(t *testing.T) {
	oracle := accesscontrol.NewInMemory(false)
	agent, _ := newTestAgent()
	g := &Gateway{oracle: oracle, agent: agent}
	l := NewListener(g, nil)

	reply := l.dispatch("mallory", transport.Envelope{
		Method:  "list_functions",
		Payload: json.RawMessage(`{}`),
	})

	require.NotEmpty(t, reply.Error)
	require.Equal(t, domerr.PermissionDenied.String(), reply.Kind)
}

func TestDispatchMalformedPayloadReturnsInvalidArgument(t *testing.T) {
	oracle := accesscontrol.NewInMemory(true)
	agent, _ := newTestAgent()
	g := &Gateway{oracle: oracle, agent: agent}
	l := NewListener(g, nil)

	reply := l.dispatch("alice", transport.Envelope{
		Method:  "get_task",
		Payload: json.RawMessage(`not json`),
	})

	require.NotEmpty(t, reply.Error)
	require.Equal(t, domerr.InvalidArgument.String(), reply.Kind)
}
