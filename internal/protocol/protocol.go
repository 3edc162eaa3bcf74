// Package protocol demultiplexes the child's single inbound frame sequence
// into conversation messages, responses to client-initiated control
// requests, and server-initiated control requests, and correlates
// client-initiated requests with their responses by id.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentcli/sdk-go/internal/logging"
	"github.com/agentcli/sdk-go/internal/transport"
)

// State is the connection state machine described in spec.md §4.4.
type State int

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Frame is a classified conversation message, handed up unparsed so the
// facade can decode it into its own Message types.
type Frame struct {
	Kind string
	Raw  json.RawMessage
}

// ControlRequest is a server-initiated control frame awaiting a reply.
type ControlRequest struct {
	ID      string
	Subtype string
	Raw     json.RawMessage
}

// ControlRequestHandler turns a server-initiated control request into a
// reply. reply must be called exactly once, synchronously or from another
// goroutine; errMsg non-empty means the reply encodes a failure.
type ControlRequestHandler interface {
	HandleControlRequest(ctx context.Context, req ControlRequest, reply func(payload any, errMsg string))
}

// UnknownResponseIDError reports a control_response whose id matches no
// PendingRequest.
type UnknownResponseIDError struct{ ID string }

func (e *UnknownResponseIDError) Error() string {
	return fmt.Sprintf("protocol: unknown response id %q", e.ID)
}

// MalformedFrameError reports an inbound line that parsed as JSON but is
// neither a recognized message nor a well-formed control frame.
type MalformedFrameError struct{ Reason string }

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("protocol: malformed frame: %s", e.Reason)
}

// DecodeError reports an inbound line that failed to parse as JSON at all.
type DecodeError struct {
	Preview string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: json decode: %q: %v", e.Preview, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TimeoutError reports a client-initiated control request that received no
// matching response within its deadline.
type TimeoutError struct {
	Secs        int
	RequestType string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("protocol: control request %q timed out after %ds", e.RequestType, e.Secs)
}

// ClosedError reports a PendingRequest resolved because the connection
// transitioned to Failed or Closed before a response arrived.
type ClosedError struct{ Reason string }

func (e *ClosedError) Error() string { return fmt.Sprintf("protocol: %s", e.Reason) }

type pendingRequest struct {
	requestType string
	done        chan pendingResult
}

type pendingResult struct {
	payload json.RawMessage
	err     error
}

// envelope is the minimal shape every inbound frame is decoded into before
// full classification.
type envelope struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Subtype string `json:"subtype"`
}

// resultEnvelope extracts the one field the Engine needs from a result
// frame without fully decoding it; the facade owns the rest of the shape.
type resultEnvelope struct {
	SessionID string `json:"session_id"`
}

// Engine owns the Framer and runs the reader loop for one connection.
type Engine struct {
	framer         *transport.Framer
	handler        ControlRequestHandler
	controlTimeout time.Duration
	onResult       func(sessionID string)

	mu      sync.Mutex
	pending map[string]*pendingRequest
	state   State

	messages chan Frame
	errs     chan error
}

// New builds an Engine around framer. onResult, if non-nil, is called with
// the session id of every observed result frame, before the frame is
// published on Messages.
func New(framer *transport.Framer, handler ControlRequestHandler, controlTimeout time.Duration, onResult func(sessionID string)) *Engine {
	return &Engine{
		framer:         framer,
		handler:        handler,
		controlTimeout: controlTimeout,
		onResult:       onResult,
		pending:        make(map[string]*pendingRequest),
		state:          StateInit,
		messages:       make(chan Frame, 64),
		errs:           make(chan error, 16),
	}
}

// Messages streams classified conversation frames in frame-arrival order.
// It is closed when Run returns.
func (e *Engine) Messages() <-chan Frame { return e.messages }

// Errors streams non-fatal decode and protocol errors (over-budget lines,
// unknown response ids, malformed frames) and, when a read fails for any
// reason other than cancellation, that final read error before Run returns.
// It is never closed by Run; the caller should stop draining it once
// Messages closes.
func (e *Engine) Errors() <-chan error { return e.errs }

// State reports the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run drives the Framer until ctx is cancelled or the stream ends,
// classifying every frame. It returns when the reader loop exits; callers
// typically invoke it in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	e.setState(StateRunning)
	defer close(e.messages)

	for {
		line, err := e.framer.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrOverBudget) {
				// Over-budget lines are a stream item, not a fatal error:
				// the Framer has already resynchronized to the next
				// separator boundary.
				e.errs <- err
				continue
			}
			if errors.Is(err, transport.ErrCancelled) {
				e.setState(StateClosed)
				e.failAllPending(&ClosedError{Reason: "cancelled"})
				return
			}
			e.setState(StateFailed)
			e.failAllPending(&ClosedError{Reason: "transport failure"})
			e.errs <- err
			return
		}
		e.handleLine(ctx, line)
	}
}

func (e *Engine) handleLine(ctx context.Context, line []byte) {
	var env envelope
	if err := transport.DecodeJSON(line, &env); err != nil {
		e.errs <- &DecodeError{Preview: transport.Preview(line), Err: err}
		return
	}

	switch env.Type {
	case "control_response":
		e.resolvePending(env.ID, line)
	case "control_request":
		e.dispatchControlRequest(ctx, env, line)
	case "":
		e.errs <- &MalformedFrameError{Reason: "missing discriminator"}
	default:
		if env.Type == "result" {
			var res resultEnvelope
			if json.Unmarshal(line, &res) == nil && e.onResult != nil {
				e.onResult(res.SessionID)
			}
		}
		e.messages <- Frame{Kind: env.Type, Raw: line}
	}
}

func (e *Engine) resolvePending(id string, payload json.RawMessage) {
	e.mu.Lock()
	pr, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()

	if !ok {
		e.errs <- &UnknownResponseIDError{ID: id}
		return
	}
	pr.done <- pendingResult{payload: payload}
}

func (e *Engine) dispatchControlRequest(ctx context.Context, env envelope, raw json.RawMessage) {
	if e.handler == nil {
		logging.Warn().Str("component", "protocol").Str("subtype", env.Subtype).Msg("no control request handler registered")
		return
	}
	req := ControlRequest{ID: env.ID, Subtype: env.Subtype, Raw: raw}
	go e.handler.HandleControlRequest(ctx, req, func(payload any, errMsg string) {
		e.reply(ctx, env.ID, payload, errMsg)
	})
}

func (e *Engine) reply(ctx context.Context, id string, payload any, errMsg string) {
	frame := map[string]any{
		"type": "control_response",
		"id":   id,
	}
	if errMsg != "" {
		frame["error"] = errMsg
	} else {
		frame["response"] = payload
	}
	if err := e.framer.WriteFrame(ctx, frame); err != nil {
		logging.Warn().Err(err).Str("component", "protocol").Str("request_id", id).Msg("failed to write control reply")
	}
}

// SendControlRequest issues a client-initiated control request of the given
// subtype, merges extra into the outbound frame, and blocks until a
// matching response arrives, the control timeout elapses, or ctx is
// cancelled.
func (e *Engine) SendControlRequest(ctx context.Context, subtype string, extra map[string]any) (json.RawMessage, error) {
	id := ulid.Make().String()
	pr := &pendingRequest{requestType: subtype, done: make(chan pendingResult, 1)}

	e.mu.Lock()
	e.pending[id] = pr
	e.mu.Unlock()

	frame := map[string]any{
		"type":    "control_request",
		"id":      id,
		"subtype": subtype,
	}
	for k, v := range extra {
		frame[k] = v
	}

	if err := e.framer.WriteFrame(ctx, frame); err != nil {
		e.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(e.controlTimeout)
	defer timer.Stop()

	select {
	case res := <-pr.done:
		return res.payload, res.err
	case <-timer.C:
		e.dropPending(id)
		return nil, &TimeoutError{Secs: int(e.controlTimeout.Seconds()), RequestType: subtype}
	case <-ctx.Done():
		e.dropPending(id)
		return nil, ctx.Err()
	}
}

func (e *Engine) dropPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *Engine) failAllPending(err error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]*pendingRequest)
	e.mu.Unlock()

	for _, pr := range pending {
		pr.done <- pendingResult{err: err}
	}
}
