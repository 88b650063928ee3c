package frontend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teaclave-sh/lifecycle/internal/accesscontrol"
	"github.com/teaclave-sh/lifecycle/internal/auditagent"
	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

func newTestAgent() (*auditagent.Agent, *auditagent.Buffer) {
	buf := auditagent.NewBuffer(10)
	return auditagent.New(buf, nil, 0), buf
}

func TestCheckAccessDeniesUnauthorizedCaller(t *testing.T) {
	oracle := accesscontrol.NewInMemory(false)
	agent, _ := newTestAgent()
	g := &Gateway{oracle: oracle, agent: agent}

	_, err := g.CreateTask("alice", createTaskRequest{})
	require.Error(t, err)
	require.Equal(t, domerr.PermissionDenied, domerr.KindOf(err))
}

func TestCheckAccessAllowsGrantedCaller(t *testing.T) {
	oracle := accesscontrol.NewInMemory(false)
	oracle.Grant("alice", perimeterObject)
	agent, _ := newTestAgent()
	g := &Gateway{oracle: oracle, agent: agent}

	require.NoError(t, g.checkAccess("alice"))
}

func TestCheckAccessAllowAllOracle(t *testing.T) {
	oracle := accesscontrol.NewInMemory(true)
	agent, _ := newTestAgent()
	g := &Gateway{oracle: oracle, agent: agent}

	require.NoError(t, g.checkAccess("anyone"))
}

func TestCheckAccessDeniedRecordsAuditEntry(t *testing.T) {
	oracle := accesscontrol.NewInMemory(false)
	agent, buf := newTestAgent()
	g := &Gateway{oracle: oracle, agent: agent}

	require.Error(t, g.checkAccess("mallory"))

	entries := buf.Drain()
	require.Len(t, entries, 1)
	require.Equal(t, "mallory", entries[0].User)
	require.False(t, entries[0].Result)
}
