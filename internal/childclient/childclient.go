// Package childclient implements one stdio JSON-RPC client per mounted
// child process (spec.md §4.5). Grounded on the teacher's
// internal/mcp/manager.Manager pooled-client pattern, adapted from an
// HTTP/SSE per-conversation pool into a stdio subprocess wrapper, and on
// adapter/mcp/util.go's direct os/exec usage for spawning child tooling.
package childclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
)

// State is the child's lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateClosed   State = "closed"
)

// DefaultInitializeTimeout is the default deadline for the initialize
// handshake, per spec.md §4.5.
const DefaultInitializeTimeout = 5 * time.Second

// pending tracks one in-flight request awaiting a reply.
type pending struct {
	resultCh chan protocol.Envelope
}

// Client wraps one subprocess speaking MCP over stdio JSON-RPC.
type Client struct {
	Name    string
	Command string
	Args    []string
	Env     []string

	cmd    *exec.Cmd
	stdin  *protocol.Writer
	reader *protocol.Reader
	stderr io.ReadCloser

	mu    sync.Mutex
	state State

	pendingMu sync.Mutex
	pendingBy map[string]*pending

	nextID int64

	toolsMu sync.RWMutex
	tools   []protocol.Tool

	doneCh chan struct{}
}

// New constructs a Client for the given mount command.
func New(name, command string, args, env []string) *Client {
	return &Client{
		Name:      name,
		Command:   command,
		Args:      args,
		Env:       env,
		state:     StateStarting,
		pendingBy: make(map[string]*pending),
		doneCh:    make(chan struct{}),
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start spawns the subprocess and begins the reader goroutine. It does not
// perform the initialize handshake; call Initialize next.
func (c *Client) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nerr.New(nerr.KindHandlerError, "child %s: stdin pipe: %v", c.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nerr.New(nerr.KindHandlerError, "child %s: stdout pipe: %v", c.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nerr.New(nerr.KindHandlerError, "child %s: stderr pipe: %v", c.Name, err)
	}
	if err := cmd.Start(); err != nil {
		c.setState(StateFailed)
		return nerr.New(nerr.KindHandlerError, "child %s: start: %v", c.Name, err)
	}

	c.cmd = cmd
	c.stdin = protocol.NewWriter(stdin)
	c.reader = protocol.NewReader(stdout)
	c.stderr = stderr

	go c.drainStderr()
	go c.readLoop()
	go c.awaitExit()

	return nil
}

func (c *Client) drainStderr() {
	scanner := bufio.NewScanner(c.stderr)
	for scanner.Scan() {
		log.Printf("[childclient:%s] stderr: %s", c.Name, scanner.Text())
	}
}

func (c *Client) awaitExit() {
	_ = c.cmd.Wait()
	c.setState(StateClosed)
	c.failAllPending(nerr.New(nerr.KindChildClosed, "child %s exited", c.Name))
	close(c.doneCh)
}

// readLoop is the single reader goroutine per spec.md §4.5: it consumes
// stdout and dispatches replies to per-request completion channels.
func (c *Client) readLoop() {
	for {
		line, err := c.reader.ReadLine()
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(line)
		if err != nil {
			log.Printf("[childclient:%s] malformed line skipped: %v", c.Name, err)
			continue
		}
		if env.IsNotification() {
			log.Printf("[childclient:%s] notification: %s", c.Name, env.Method)
			continue
		}
		if env.IsResponse() {
			c.deliver(env)
			continue
		}
		log.Printf("[childclient:%s] unexpected request from child, ignored: %s", c.Name, env.Method)
	}
}

func (c *Client) deliver(env protocol.Envelope) {
	key := env.ID.String()
	c.pendingMu.Lock()
	p, ok := c.pendingBy[key]
	if ok {
		delete(c.pendingBy, key)
	}
	c.pendingMu.Unlock()
	if ok {
		p.resultCh <- env
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ne, _ := err.(*nerr.Error)
	code := nerr.Code(err)
	for id, p := range c.pendingBy {
		msg := err.Error()
		if ne != nil {
			msg = ne.Message
		}
		p.resultCh <- protocol.NewError(protocol.NewStringID(id), code, msg)
		delete(c.pendingBy, id)
	}
}

// call sends one request and blocks until a reply arrives, deadline elapses,
// or the child closes.
func (c *Client) call(ctx context.Context, method string, params interface{}, deadline time.Duration) (protocol.Envelope, error) {
	if c.State() == StateClosed || c.State() == StateFailed {
		return protocol.Envelope{}, nerr.New(nerr.KindChildClosed, "child %s is not running", c.Name)
	}

	id := fmt.Sprintf("%d", atomic.AddInt64(&c.nextID, 1))
	env, err := protocol.NewRequest(protocol.NewStringID(id), method, params)
	if err != nil {
		return protocol.Envelope{}, nerr.New(nerr.KindHandlerError, "encode request: %v", err)
	}

	p := &pending{resultCh: make(chan protocol.Envelope, 1)}
	c.pendingMu.Lock()
	c.pendingBy[id] = p
	c.pendingMu.Unlock()

	if err := c.stdin.WriteEnvelope(env); err != nil {
		c.pendingMu.Lock()
		delete(c.pendingBy, id)
		c.pendingMu.Unlock()
		return protocol.Envelope{}, nerr.New(nerr.KindChildClosed, "child %s: write: %v", c.Name, err)
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pendingBy, id)
		c.pendingMu.Unlock()
		return protocol.Envelope{}, nerr.New(nerr.KindTimeout, "child %s: %v", c.Name, ctx.Err())
	case <-timer.C:
		c.pendingMu.Lock()
		delete(c.pendingBy, id)
		c.pendingMu.Unlock()
		return protocol.Envelope{}, nerr.New(nerr.KindTimeout, "child %s: call %q timed out after %s", c.Name, method, deadline)
	case reply := <-p.resultCh:
		return reply, nil
	}
}

// Initialize performs the MCP initialize handshake, transitioning to ready
// only on success within DefaultInitializeTimeout.
func (c *Client) Initialize(ctx context.Context) error {
	env, err := c.call(ctx, "initialize", protocol.InitializeParams{ClientInfo: protocol.ClientInfo{Name: "nucleus-mcp", Version: "0.1.0"}}, DefaultInitializeTimeout)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	if env.Error != nil {
		c.setState(StateFailed)
		return errFromEnvelope(c.Name, env.Error)
	}
	c.setState(StateReady)
	return nil
}

// ListTools calls tools/list and caches the result.
func (c *Client) ListTools(ctx context.Context, deadline time.Duration) ([]protocol.Tool, error) {
	env, err := c.call(ctx, "tools/list", map[string]interface{}{}, deadline)
	if err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, errFromEnvelope(c.Name, env.Error)
	}
	var res protocol.ListToolsResult
	if err := decodeResult(env, &res); err != nil {
		return nil, err
	}
	c.toolsMu.Lock()
	c.tools = res.Tools
	c.toolsMu.Unlock()
	return res.Tools, nil
}

// CachedTools returns the last ListTools result without refreshing it.
func (c *Client) CachedTools() []protocol.Tool {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]protocol.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Call invokes tool with args under deadline.
func (c *Client) Call(ctx context.Context, tool string, args map[string]interface{}, deadline time.Duration) (protocol.CallToolResult, error) {
	env, err := c.call(ctx, "tools/call", protocol.CallToolParams{Name: tool, Arguments: args}, deadline)
	if err != nil {
		return protocol.CallToolResult{}, err
	}
	if env.Error != nil {
		return protocol.CallToolResult{}, errFromEnvelope(c.Name, env.Error)
	}
	var res protocol.CallToolResult
	if err := decodeResult(env, &res); err != nil {
		return protocol.CallToolResult{}, err
	}
	return res, nil
}

// Stop sends SIGTERM, waits up to 2s, then SIGKILL, and drains outstanding
// pending calls with ChildClosed.
func (c *Client) Stop() error {
	if c.cmd == nil || c.cmd.Process == nil {
		c.setState(StateClosed)
		return nil
	}
	_ = c.cmd.Process.Signal(terminateSignal())

	select {
	case <-c.doneCh:
		return nil
	case <-time.After(2 * time.Second):
		_ = c.cmd.Process.Kill()
		<-c.doneCh
		return nil
	}
}

// errFromEnvelope rebuilds a *nerr.Error from an envelope-level error,
// recovering its Kind from env.Error.Code rather than always collapsing it
// to KindHandlerError. A crashed child's ChildClosed code must survive the
// round trip through failAllPending's synthetic envelope.
func errFromEnvelope(name string, envErr *protocol.Error) error {
	kind, _ := nerr.KindFromCode(envErr.Code)
	return nerr.New(kind, "child %s: %s", name, envErr.Message)
}

func decodeResult(env protocol.Envelope, out interface{}) error {
	if err := decodeJSON(env.Result, out); err != nil {
		return nerr.New(nerr.KindHandlerError, "decode result: %v", err)
	}
	return nil
}
