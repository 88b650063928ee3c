package transport

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/log"
)

// Envelope is the wire format every RPC request and reply is wrapped
// in: Method names the handler to dispatch to, Payload carries its
// JSON-encoded arguments or result, and Kind carries the domain error
// classification on a failed reply (spec §7: error kinds cross the
// RPC boundary, stack traces don't).
type Envelope struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Kind    string          `json:"kind,omitempty"`
}

const defaultTimeout = 10 * time.Second

// Client issues request-reply RPCs against one service's subject.
type Client struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

func NewClient(conn *nats.Conn, subject string) *Client {
	return &Client{conn: conn, subject: subject, timeout: defaultTimeout}
}

// Call marshals args, sends it under method, and unmarshals the reply
// payload into result (which may be nil for a method with no return
// value). A reply carrying an Error field is translated back into a
// domain error tagged with its original Kind.
func (c *Client) Call(method string, args, result interface{}) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return domerr.Wrap(domerr.Internal, "transport.Call", "marshal args", err)
	}
	req := Envelope{Method: method, Payload: payload}
	reqData, err := json.Marshal(req)
	if err != nil {
		return domerr.Wrap(domerr.Internal, "transport.Call", "marshal envelope", err)
	}

	msg, err := c.conn.Request(c.subject, reqData, c.timeout)
	if err != nil {
		return domerr.Wrap(domerr.SchedulerUnavailable, "transport.Call", "nats request", err)
	}

	var reply Envelope
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return domerr.Wrap(domerr.Internal, "transport.Call", "unmarshal reply envelope", err)
	}
	if reply.Error != "" {
		return domerr.New(kindFromString(reply.Kind), method, reply.Error)
	}
	if result == nil || len(reply.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Payload, result); err != nil {
		return domerr.Wrap(domerr.Internal, "transport.Call", "unmarshal result", err)
	}
	return nil
}

// Handler processes one RPC method's decoded arguments and returns a
// result to be JSON-encoded back to the caller.
type Handler func(rawArgs json.RawMessage) (interface{}, error)

// Server dispatches Envelopes arriving on subject to registered
// per-method Handlers.
type Server struct {
	conn     *nats.Conn
	subject  string
	handlers map[string]Handler
	sub      *nats.Subscription
}

func NewServer(conn *nats.Conn, subject string) *Server {
	return &Server{conn: conn, subject: subject, handlers: make(map[string]Handler)}
}

// Register binds method to handler. Must be called before Start.
func (s *Server) Register(method string, handler Handler) {
	s.handlers[method] = handler
}

// Start subscribes on subject and begins dispatching requests.
func (s *Server) Start() error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		s.dispatch(msg)
	})
	if err != nil {
		return domerr.Wrap(domerr.Internal, "transport.Start", "subscribe", err)
	}
	s.sub = sub
	return nil
}

func (s *Server) dispatch(msg *nats.Msg) {
	var req Envelope
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.reply(msg, Envelope{Error: "malformed envelope", Kind: domerr.Internal.String()})
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		s.reply(msg, Envelope{Error: "unknown method: " + req.Method, Kind: domerr.InvalidArgument.String()})
		return
	}

	result, err := handler(req.Payload)
	if err != nil {
		kind := domerr.KindOf(err)
		log.WithComponent("transport").Warn().Err(err).Str("method", req.Method).Str("kind", kind.String()).Msg("rpc handler failed")
		s.reply(msg, Envelope{Error: err.Error(), Kind: kind.String()})
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.reply(msg, Envelope{Error: "marshal result: " + err.Error(), Kind: domerr.Internal.String()})
		return
	}
	s.reply(msg, Envelope{Method: req.Method, Payload: payload})
}

func (s *Server) reply(msg *nats.Msg, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		log.WithComponent("transport").Error().Err(err).Msg("failed to send rpc reply")
	}
}

// Stop unsubscribes from the server's subject.
func (s *Server) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func kindFromString(s string) domerr.Kind {
	for k := domerr.Internal; k <= domerr.AttestationFailed; k++ {
		if k.String() == s {
			return k
		}
	}
	return domerr.Internal
}
