// Package client implements the controller-side RPC engine: it spawns a
// worker process, frames requests onto its stdin, correlates asynchronous
// replies from its stdout by identifier and enforces per-request timeouts.
//
// Callers always receive a reply-shaped value. Timeouts, marshalling
// failures and worker death surface as synthetic error replies carrying the
// generic protocol error code, never as panics or unhandled faults.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/protocol"
)

// DefaultRequestTimeout applies when a call passes a non-positive timeout.
const DefaultRequestTimeout = 30 * time.Second

// Options configures a Client instance.
type Options struct {
	// Env entries are appended to the inherited environment of the spawned
	// worker (state-directory location, working directory and the like).
	Env []string

	// Dir is the working directory for the spawned worker.
	Dir string

	// Logger receives correlation diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Reply is the outcome of one request: either the genuine server reply or a
// synthetic error produced locally on timeout, write failure or worker exit.
type Reply struct {
	ID     int64
	Result json.RawMessage
	Error  *protocol.ErrorObject
}

// Err returns the reply error, or nil for a successful reply.
func (r *Reply) Err() error {
	if r.Error != nil {
		return r.Error
	}
	return nil
}

// Decode unmarshals the result payload into v.
func (r *Reply) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return fmt.Errorf("reply %d has no result", r.ID)
	}
	return json.Unmarshal(r.Result, v)
}

// pendingCall ties a sent request's identifier to its eventual completion.
// The buffered channel is a one-shot: whoever removes the entry from the
// pending table sends exactly one reply into it.
type pendingCall struct {
	id int64
	ch chan *Reply
}

// Client owns one worker connection. Request identifiers increase
// monotonically for the lifetime of the instance; each pending entry resolves
// exactly once — on matching reply, on timeout, or on worker exit, whichever
// comes first.
type Client struct {
	opts   Options
	logger logging.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]*pendingCall
	termReason string

	nextID atomic.Int64

	stderrMu sync.Mutex
	stderr   bytes.Buffer

	done     chan struct{}
	doneOnce sync.Once

	closeOnce sync.Once
}

// Spawn starts command with the given arguments, wired to the framing codec
// on stdin/stdout. Stderr is accumulated separately for diagnostics and never
// participates in correlation. The returned client is ready for requests.
func Spawn(ctx context.Context, command string, args []string, optFns ...func(o *Options)) (*Client, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %q: %w", command, err)
	}

	c := newClient(stdin, stdout, opts)
	c.cmd = cmd

	go c.drainStderr(stderr)
	go func() {
		// Wait reaps the child; the read loop usually notices EOF first, but
		// a worker that closes stdout while staying alive is also terminal
		// for correlation purposes once it exits.
		_ = cmd.Wait()
		c.terminate("worker process exited")
	}()

	return c, nil
}

// Attach wires a client to an already established duplex pipe. Used by tests
// and by callers that manage the worker process themselves.
func Attach(stdin io.WriteCloser, stdout io.Reader, optFns ...func(o *Options)) *Client {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return newClient(stdin, stdout, opts)
}

func newClient(stdin io.WriteCloser, stdout io.Reader, opts Options) *Client {
	c := &Client{
		opts:    opts,
		logger:  opts.Logger,
		stdin:   stdin,
		pending: make(map[string]*pendingCall),
		done:    make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c
}

// Done is closed once the connection is terminal (worker exited or Close was
// called). No request issued after that point reaches the worker.
func (c *Client) Done() <-chan struct{} { return c.done }

// Stderr returns everything the worker has written to its stderr so far.
func (c *Client) Stderr() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	return c.stderr.String()
}

// Close makes the client terminal: the worker process is killed, stdin is
// closed and every pending request resolves with a synthetic error.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		_ = c.stdin.Close()
		c.terminate("client closed")
	})
	return nil
}

// Request sends a framed request and blocks until a reply-shaped value is
// available: the genuine server reply, or a synthetic error on timeout,
// context cancellation, write failure or worker exit. A non-positive timeout
// falls back to DefaultRequestTimeout.
func (c *Client) Request(ctx context.Context, method string, params any, timeout time.Duration) *Reply {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	id := c.nextID.Add(1)

	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return syntheticReply(id, err.Error())
	}
	key := msg.IDKey()
	call := &pendingCall{id: id, ch: make(chan *Reply, 1)}

	c.mu.Lock()
	if c.termReason != "" {
		reason := c.termReason
		c.mu.Unlock()
		return syntheticReply(id, reason)
	}
	c.pending[key] = call
	c.mu.Unlock()

	if err := c.write(msg); err != nil {
		c.fail(key, "write request: %v", err)
		return <-call.ch
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-call.ch:
		return reply
	case <-timer.C:
		// The peer's handler may still complete; its late reply is dropped
		// by the read loop since the pending entry is gone.
		c.fail(key, "request %q timed out after %s", method, timeout)
		return <-call.ch
	case <-ctx.Done():
		c.fail(key, "request %q cancelled: %v", method, ctx.Err())
		return <-call.ch
	}
}

// Notify sends a fire-and-forget notification. Errors are reported directly
// since there is no reply to carry them.
func (c *Client) Notify(method string, params any) error {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Initialize performs the initialize handshake and acknowledges it with the
// initialized notification.
func (c *Client) Initialize(ctx context.Context, timeout time.Duration) (*protocol.InitializeResult, error) {
	reply := c.Request(ctx, protocol.MethodInitialize, struct{}{}, timeout)
	var result protocol.InitializeResult
	if err := reply.Decode(&result); err != nil {
		return nil, err
	}
	if err := c.Notify(protocol.NotificationInitialized, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks connection liveness with an empty round trip.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	return c.Request(ctx, protocol.MethodPing, struct{}{}, timeout).Err()
}

// ToolsList fetches the registered tool definitions in registration order.
func (c *Client) ToolsList(ctx context.Context, timeout time.Duration) ([]protocol.ToolInfo, error) {
	reply := c.Request(ctx, protocol.MethodToolsList, struct{}{}, timeout)
	var result protocol.ToolsListResult
	if err := reply.Decode(&result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ToolsCall invokes a named tool and returns its raw result payload.
func (c *Client) ToolsCall(ctx context.Context, name string, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	params := map[string]any{"name": name, "arguments": args}
	reply := c.Request(ctx, protocol.MethodToolsCall, params, timeout)
	if err := reply.Err(); err != nil {
		return nil, err
	}
	return reply.Result, nil
}

func (c *Client) write(msg protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(raw)
	return err
}

// readLoop decodes worker stdout and resolves pending entries by identifier.
// Replies with no matching entry (late arrivals after timeout, unsolicited
// traffic) are dropped. Stream end resolves everything still pending.
func (c *Client) readLoop(stdout io.Reader) {
	codec := protocol.NewCodec(func(o *protocol.CodecOptions) { o.Logger = c.logger })
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, msg := range codec.Push(buf[:n]) {
				c.deliver(msg)
			}
		}
		if err != nil {
			break
		}
	}
	c.terminate("worker process exited")
}

func (c *Client) deliver(msg protocol.Message) {
	if !msg.IsReply() {
		c.logger.Debug("client.message.ignored", "method", msg.Method)
		return
	}
	key := msg.IDKey()

	c.mu.Lock()
	call, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("client.reply.dropped", "id", key)
		return
	}
	call.ch <- &Reply{ID: call.id, Result: msg.Result, Error: msg.Error}
}

// fail resolves one pending entry with a synthetic error. A no-op when the
// entry was already resolved by a genuine reply or by termination.
func (c *Client) fail(key, format string, args ...any) {
	c.mu.Lock()
	call, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if ok {
		call.ch <- syntheticReply(call.id, fmt.Sprintf(format, args...))
	}
}

// terminate marks the client terminal and resolves every still-pending entry
// so no caller waits past process death. Idempotent.
func (c *Client) terminate(reason string) {
	c.mu.Lock()
	if c.termReason != "" {
		c.mu.Unlock()
		return
	}
	c.termReason = reason
	calls := make([]*pendingCall, 0, len(c.pending))
	for _, call := range c.pending {
		calls = append(calls, call)
	}
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range calls {
		call.ch <- syntheticReply(call.id, reason)
	}
	c.doneOnce.Do(func() { close(c.done) })
	c.logger.Info("client.terminated", "reason", reason, "resolved", len(calls))
}

func (c *Client) drainStderr(r io.Reader) {
	buf := make([]byte, 2048)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.stderrMu.Lock()
			c.stderr.Write(buf[:n])
			c.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func syntheticReply(id int64, message string) *Reply {
	return &Reply{
		ID:    id,
		Error: &protocol.ErrorObject{Code: protocol.GenericErrorCode, Message: message},
	}
}
