// Package server implements Nucleus's host-facing Stdio JSON-RPC Server
// (spec.md §4.8). Generalizes the teacher's internal/mcp/expose.ToolHandler
// (ListTools/CallTool/Implements MCP operations surface, there wired to an
// HTTP transport) into a stdio-framed server speaking the same methods
// directly over stdin/stdout.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/eidetic-works/nucleus-mcp/internal/dispatch"
	"github.com/eidetic-works/nucleus-mcp/internal/mounter"
	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
	"github.com/eidetic-works/nucleus-mcp/internal/registry"
)

// State is the server's connection-level state machine, per spec.md §4.8.
type State string

const (
	StateNew    State = "new"
	StateReady  State = "ready"
	StateClosed State = "closed"
)

// DefaultShutdownTimeout bounds graceful shutdown, per spec.md §8 (S6).
const DefaultShutdownTimeout = 5 * time.Second

// ActorResolver extracts an actor id from a request, e.g. from an
// out-of-band host identity. The default treats every call as "host".
type ActorResolver func() string

func defaultActorResolver() string { return "host" }

// Server speaks MCP over stdin/stdout.
type Server struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	mnt        *mounter.Mounter
	actor      ActorResolver

	shutdownTimeout time.Duration

	mu    sync.Mutex
	state State
}

// New constructs a Server over its collaborators.
func New(reg *registry.Registry, dispatcher *dispatch.Dispatcher, mnt *mounter.Mounter) *Server {
	return &Server{reg: reg, dispatcher: dispatcher, mnt: mnt, actor: defaultActorResolver, state: StateNew, shutdownTimeout: DefaultShutdownTimeout}
}

// WithActorResolver overrides how the server attributes calls to an actor.
func (s *Server) WithActorResolver(fn ActorResolver) *Server {
	s.actor = fn
	return s
}

// WithShutdownTimeout overrides how long graceful shutdown waits for mounted
// children to stop before giving up, per nucleus.yaml's shutdownTimeout.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Serve reads frames from r and writes responses to w until r reaches EOF
// or ctx is cancelled, dispatching each tools/call concurrently while
// serializing writes through the frame writer.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := protocol.NewReader(r)
	writer := protocol.NewWriter(w)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		line, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.shutdownChildren()
				s.setState(StateClosed)
				return nil
			}
			if errors.Is(err, protocol.ErrFrameTooLong) {
				_ = writer.WriteEnvelope(protocol.NewError(protocol.RequestID{}, -32700, err.Error()))
				continue
			}
			return err
		}

		env, perr := protocol.ParseEnvelope(line)
		if perr != nil {
			_ = writer.WriteEnvelope(protocol.NewError(protocol.RequestID{}, -32700, perr.Error()))
			continue
		}
		if !env.IsRequest() {
			continue // notifications from the host are logged and ignored
		}

		if s.State() == StateNew && env.Method != "initialize" {
			_ = writer.WriteEnvelope(protocol.NewError(*env.ID, nerr.New(nerr.KindNotInitialized, "initialize must be the first request").Code(), "not initialized"))
			continue
		}

		// Only tools/call may block on a handler or a mounted child, so
		// only it is dispatched concurrently; initialize/tools/list/
		// shutdown are cheap, in-memory operations handled inline. This
		// keeps state transitions (e.g. new -> ready) ordered with the
		// frame that triggered them, while still letting slow tool calls
		// overlap, per spec.md §4.8's "dispatches tool calls concurrently"
		// rule.
		if env.Method == "tools/call" {
			wg.Add(1)
			go func(env protocol.Envelope) {
				defer wg.Done()
				s.handle(ctx, env, writer)
			}(env)
			continue
		}
		s.handle(ctx, env, writer)
	}
}

func (s *Server) handle(ctx context.Context, env protocol.Envelope, writer *protocol.Writer) {
	switch env.Method {
	case "initialize":
		s.setState(StateReady)
		result := protocol.InitializeResult{
			ServerInfo:   protocol.ServerInfo{Name: "nucleus-mcp", Version: "0.1.0"},
			Capabilities: protocol.Capabilities{Tools: map[string]interface{}{}},
		}
		reply, _ := protocol.NewResult(*env.ID, result)
		_ = writer.WriteEnvelope(reply)

	case "tools/list":
		tools := s.reg.List()
		for _, mt := range s.mnt.ListTools() {
			tools = append(tools, protocol.Tool{
				Name:        mt.QualifiedName,
				Description: mt.Description,
				InputSchema: mt.InputSchema,
			})
		}
		reply, _ := protocol.NewResult(*env.ID, protocol.ListToolsResult{Tools: tools})
		_ = writer.WriteEnvelope(reply)

	case "tools/call":
		var params protocol.CallToolParams
		_ = decodeParams(env.Params, &params)
		result, err := s.dispatcher.Dispatch(ctx, s.actor(), params.Name, params.Arguments)
		if err != nil {
			_ = writer.WriteEnvelope(protocol.NewError(*env.ID, nerr.Code(err), err.Error()))
			return
		}
		reply, _ := protocol.NewResult(*env.ID, result)
		_ = writer.WriteEnvelope(reply)

	case "shutdown":
		s.shutdownChildren()
		s.setState(StateClosed)
		reply, _ := protocol.NewResult(*env.ID, map[string]interface{}{})
		_ = writer.WriteEnvelope(reply)

	default:
		_ = writer.WriteEnvelope(protocol.NewError(*env.ID, -32601, "method not found: "+env.Method))
	}
}

// shutdownChildren stops every mounted child, giving up after
// shutdownTimeout so a wedged child process can never block process exit
// (spec.md §8, S6).
func (s *Server) shutdownChildren() {
	if s.mnt == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.mnt.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
	}
}

func decodeParams(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
