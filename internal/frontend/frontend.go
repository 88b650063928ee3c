package frontend

import (
	"context"
	"fmt"

	"github.com/teaclave-sh/lifecycle/internal/accesscontrol"
	"github.com/teaclave-sh/lifecycle/internal/attestation"
	"github.com/teaclave-sh/lifecycle/internal/auditagent"
	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/transport"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// Gateway is the attested entry point every external caller talks to.
// It verifies the caller's identity, forwards the request on to
// Management over transport, and records perimeter audit events that
// never reach Management's own synchronous audit path.
type Gateway struct {
	verifier attestation.Verifier
	oracle   accesscontrol.Oracle
	mgmt     *transport.Client
	agent    *auditagent.Agent
}

func New(verifier attestation.Verifier, oracle accesscontrol.Oracle, mgmt *transport.Client, agent *auditagent.Agent) *Gateway {
	return &Gateway{verifier: verifier, oracle: oracle, mgmt: mgmt, agent: agent}
}

// AuthenticatePeer validates an attested TLS report and returns the
// identity subsequent RPCs should authenticate as. A failure is
// recorded through the buffered audit path, since Management never
// sees a request that fails here.
func (g *Gateway) AuthenticatePeer(report attestation.Report) (string, error) {
	identity, err := g.verifier.Verify(report)
	if err != nil {
		g.agent.Record(types.AuditEntry{Message: "peer attestation rejected", Result: false})
		return "", err
	}
	return identity, nil
}

// perimeterObject is the object every authenticated caller must be
// authorized against before a request is even forwarded to Management.
// Management performs its own finer-grained per-resource authorization
// once the request arrives; this is a coarse perimeter gate only.
const perimeterObject accesscontrol.Object = "frontend:access"

// checkAccess rejects a caller the perimeter oracle has not granted
// access to. Management never sees these requests, so the rejection
// is recorded through Gateway's own buffered audit path.
func (g *Gateway) checkAccess(caller string) error {
	ok, err := g.oracle.Authorize(caller, perimeterObject)
	if err != nil {
		g.agent.Record(types.AuditEntry{User: caller, Message: "perimeter authorization check failed", Result: false})
		return domerr.Wrap(domerr.Internal, "frontend.checkAccess", "authorize", err)
	}
	if !ok {
		g.agent.Record(types.AuditEntry{User: caller, Message: "perimeter authorization denied", Result: false})
		return domerr.New(domerr.PermissionDenied, "frontend.checkAccess", fmt.Sprintf("%s is not authorized", caller))
	}
	return nil
}

// FlushFunc is the auditagent.FlushFunc this Gateway's agent should be
// constructed with: it forwards a batch to Management's save_logs RPC.
func (g *Gateway) FlushFunc(ctx context.Context, entries []types.AuditEntry) error {
	return g.mgmt.Call("save_logs", entries, nil)
}

type createTaskRequest struct {
	FunctionID       string                         `json:"function_id"`
	Arguments        map[string]string              `json:"arguments"`
	Executor         string                         `json:"executor"`
	InputsOwnership  map[string]map[string]bool     `json:"inputs_ownership"`
	OutputsOwnership map[string]map[string]bool     `json:"outputs_ownership"`
}

type taskIDRequest struct {
	TaskID string `json:"task_id"`
}

type assignDataRequest struct {
	TaskID  string            `json:"task_id"`
	Inputs  map[string]string `json:"inputs"`
	Outputs map[string]string `json:"outputs"`
}

func (g *Gateway) CreateTask(caller string, req createTaskRequest) (string, error) {
	if err := g.checkAccess(caller); err != nil {
		return "", err
	}
	var taskID string
	err := g.mgmt.Call("create_task", struct {
		Caller string `json:"caller"`
		createTaskRequest
	}{caller, req}, &taskID)
	return taskID, err
}

func (g *Gateway) AssignData(caller string, req assignDataRequest) error {
	if err := g.checkAccess(caller); err != nil {
		return err
	}
	return g.mgmt.Call("assign_data", struct {
		Caller string `json:"caller"`
		assignDataRequest
	}{caller, req}, nil)
}

func (g *Gateway) ApproveTask(caller, taskID string) error {
	if err := g.checkAccess(caller); err != nil {
		return err
	}
	return g.mgmt.Call("approve_task", struct {
		Caller string `json:"caller"`
		taskIDRequest
	}{caller, taskIDRequest{taskID}}, nil)
}

func (g *Gateway) InvokeTask(caller, taskID string) error {
	if err := g.checkAccess(caller); err != nil {
		return err
	}
	return g.mgmt.Call("invoke_task", struct {
		Caller string `json:"caller"`
		taskIDRequest
	}{caller, taskIDRequest{taskID}}, nil)
}

func (g *Gateway) CancelTask(caller, taskID string) error {
	if err := g.checkAccess(caller); err != nil {
		return err
	}
	return g.mgmt.Call("cancel_task", struct {
		Caller string `json:"caller"`
		taskIDRequest
	}{caller, taskIDRequest{taskID}}, nil)
}

func (g *Gateway) GetTask(caller, taskID string) (*types.Task, error) {
	if err := g.checkAccess(caller); err != nil {
		return nil, err
	}
	var task types.Task
	err := g.mgmt.Call("get_task", struct {
		Caller string `json:"caller"`
		taskIDRequest
	}{caller, taskIDRequest{taskID}}, &task)
	return &task, err
}

func (g *Gateway) RegisterInputFile(caller string, f *types.InputFile) (string, error) {
	if err := g.checkAccess(caller); err != nil {
		return "", err
	}
	var id string
	err := g.mgmt.Call("register_input_file", struct {
		Caller string           `json:"caller"`
		File   *types.InputFile `json:"file"`
	}{caller, f}, &id)
	return id, err
}

func (g *Gateway) RegisterFunction(caller string, f *types.Function) (string, error) {
	if err := g.checkAccess(caller); err != nil {
		return "", err
	}
	var id string
	err := g.mgmt.Call("register_function", struct {
		Caller   string          `json:"caller"`
		Function *types.Function `json:"function"`
	}{caller, f}, &id)
	return id, err
}

func (g *Gateway) GetFunction(caller, id string) (*types.Function, error) {
	if err := g.checkAccess(caller); err != nil {
		return nil, err
	}
	var fn types.Function
	err := g.mgmt.Call("get_function", struct {
		Caller string `json:"caller"`
		ID     string `json:"id"`
	}{caller, id}, &fn)
	return &fn, err
}

func (g *Gateway) ListFunctions(caller string) ([]*types.Function, error) {
	if err := g.checkAccess(caller); err != nil {
		return nil, err
	}
	var fns []*types.Function
	err := g.mgmt.Call("list_functions", struct {
		Caller string `json:"caller"`
	}{caller}, &fns)
	return fns, err
}
