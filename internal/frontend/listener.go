package frontend

import (
	"crypto/tls"
	"encoding/json"
	"net"

	"github.com/teaclave-sh/lifecycle/internal/attestation"
	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/log"
	"github.com/teaclave-sh/lifecycle/internal/transport"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

// methodHandler dispatches one decoded request to a Gateway method,
// given the caller identity the connection's attested TLS handshake
// already established.
type methodHandler func(g *Gateway, caller string, raw json.RawMessage) (interface{}, error)

var externalMethods = map[string]methodHandler{
	"create_task":         handleCreateTask,
	"assign_data":         handleAssignData,
	"approve_task":        handleApproveTask,
	"invoke_task":         handleInvokeTask,
	"cancel_task":         handleCancelTask,
	"get_task":            handleGetTask,
	"register_input_file": handleRegisterInputFile,
	"register_function":   handleRegisterFunction,
	"get_function":        handleGetFunction,
	"list_functions":      handleListFunctions,
}

// Listener is Frontend's external-facing attested TLS entry point:
// every accepted connection authenticates via the peer certificate's
// embedded attestation report before any method dispatches to the
// Gateway (spec §6).
type Listener struct {
	gateway   *Gateway
	tlsConfig *tls.Config
}

func NewListener(gateway *Gateway, tlsConfig *tls.Config) *Listener {
	return &Listener{gateway: gateway, tlsConfig: tlsConfig}
}

// Serve accepts attested TLS connections on addr until the listener
// fails or is closed.
func (l *Listener) Serve(addr string) error {
	lis, err := tls.Listen("tcp", addr, l.tlsConfig)
	if err != nil {
		return domerr.Wrap(domerr.Internal, "frontend.Serve", "listen", err)
	}
	defer lis.Close()

	for {
		conn, err := lis.Accept()
		if err != nil {
			return domerr.Wrap(domerr.Internal, "frontend.Serve", "accept", err)
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return
	}
	if err := tlsConn.Handshake(); err != nil {
		log.WithComponent("frontend").Warn().Err(err).Msg("attested TLS handshake failed")
		if l.gateway.agent != nil {
			l.gateway.agent.Record(types.AuditEntry{Message: "attested TLS handshake rejected", Result: false})
		}
		return
	}

	caller, err := l.authenticate(tlsConn)
	if err != nil {
		log.WithComponent("frontend").Warn().Err(err).Msg("peer authentication failed")
		return
	}

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req transport.Envelope
		if err := dec.Decode(&req); err != nil {
			return
		}
		if err := enc.Encode(l.dispatch(caller, req)); err != nil {
			return
		}
	}
}

func (l *Listener) authenticate(conn *tls.Conn) (string, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", domerr.New(domerr.AttestationFailed, "frontend.authenticate", "no peer certificate presented")
	}
	report, ok := attestation.ReportFromCertificate(state.PeerCertificates[0])
	if !ok {
		return "", domerr.New(domerr.AttestationFailed, "frontend.authenticate", "certificate carries no attestation report")
	}
	return l.gateway.AuthenticatePeer(report)
}

func (l *Listener) dispatch(caller string, req transport.Envelope) transport.Envelope {
	handler, ok := externalMethods[req.Method]
	if !ok {
		return transport.Envelope{Error: "unknown method: " + req.Method, Kind: domerr.InvalidArgument.String()}
	}

	result, err := handler(l.gateway, caller, req.Payload)
	if err != nil {
		kind := domerr.KindOf(err)
		return transport.Envelope{Method: req.Method, Error: err.Error(), Kind: kind.String()}
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return transport.Envelope{Method: req.Method, Error: "marshal result: " + err.Error(), Kind: domerr.Internal.String()}
	}
	return transport.Envelope{Method: req.Method, Payload: payload}
}

func decodeInto(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return domerr.Wrap(domerr.InvalidArgument, "frontend.dispatch", "decode request", err)
	}
	return nil
}

func handleCreateTask(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req createTaskRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return g.CreateTask(caller, req)
}

func handleAssignData(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req assignDataRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return nil, g.AssignData(caller, req)
}

func handleApproveTask(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return nil, g.ApproveTask(caller, req.TaskID)
}

func handleInvokeTask(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return nil, g.InvokeTask(caller, req.TaskID)
}

func handleCancelTask(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return nil, g.CancelTask(caller, req.TaskID)
}

func handleGetTask(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req taskIDRequest
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return g.GetTask(caller, req.TaskID)
}

func handleRegisterInputFile(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req struct {
		File *types.InputFile `json:"file"`
	}
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return g.RegisterInputFile(caller, req.File)
}

func handleRegisterFunction(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req struct {
		Function *types.Function `json:"function"`
	}
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return g.RegisterFunction(caller, req.Function)
}

func handleGetFunction(g *Gateway, caller string, raw json.RawMessage) (interface{}, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeInto(raw, &req); err != nil {
		return nil, err
	}
	return g.GetFunction(caller, req.ID)
}

func handleListFunctions(g *Gateway, caller string, _ json.RawMessage) (interface{}, error) {
	return g.ListFunctions(caller)
}
