// Package server implements the worker-side RPC engine: a registry of named
// capabilities (tools, resources, prompts) dispatched from a framed stdio
// stream. The server holds no business state of its own; its only side effect
// is invoking the registered handlers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/agentrelay/agentrelay/internal/util"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/protocol"
)

// Options configures a Server instance.
type Options struct {
	// Name and Version form the static server identity returned by initialize.
	Name    string
	Version string

	// Logger receives dispatch diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Server dispatches framed requests against the capability registry.
//
// Registrations must be completed before Serve is called and are never
// mutated afterwards. Each request runs on its own goroutine, so replies are
// written as handlers complete, which may be out of request order when
// handlers race; clients correlate by identifier, not arrival order.
type Server struct {
	opts     Options
	registry *registry
}

// New constructs a Server with optional overrides.
func New(optFns ...func(o *Options)) *Server {
	opts := Options{Name: "agentrelay-worker", Version: "0.0.0", Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Server{opts: opts, registry: newRegistry()}
}

// RegisterTool adds a tool definition. Duplicate names are rejected.
func (s *Server) RegisterTool(def ToolDef) error { return s.registry.addTool(def) }

// RegisterResource adds a resource definition keyed by URI.
func (s *Server) RegisterResource(def ResourceDef) error { return s.registry.addResource(def) }

// RegisterPrompt adds a prompt definition.
func (s *Server) RegisterPrompt(def PromptDef) error { return s.registry.addPrompt(def) }

// Serve decodes frames from r and writes framed replies to w until r is
// exhausted or ctx is cancelled. It blocks and returns once every in-flight
// handler has completed. A read error other than EOF is returned; handler
// failures surface as reply-level errors, never as a Serve failure.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	codec := protocol.NewCodec(func(o *protocol.CodecOptions) { o.Logger = s.opts.Logger })

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	emit := func(msg protocol.Message) {
		raw, err := protocol.Encode(msg)
		if err != nil {
			s.opts.Logger.Error("server.reply.encode_failed", "error", err.Error())
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := w.Write(raw); err != nil {
			s.opts.Logger.Error("server.reply.write_failed", "error", err.Error())
		}
	}

	buf := make([]byte, 4096)
	var readErr error
	for {
		if ctx.Err() != nil {
			break
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, msg := range codec.Push(buf[:n]) {
				s.dispatch(ctx, msg, emit, &wg)
			}
		}
		if err != nil {
			if err != io.EOF {
				readErr = fmt.Errorf("read stream: %w", err)
			}
			break
		}
	}

	wg.Wait()
	return readErr
}

// dispatch routes one decoded message. Notifications produce no reply;
// requests always produce exactly one.
func (s *Server) dispatch(ctx context.Context, msg protocol.Message, emit func(protocol.Message), wg *sync.WaitGroup) {
	switch {
	case msg.IsNotification():
		if msg.Method != protocol.NotificationInitialized {
			s.opts.Logger.Debug("server.notification.ignored", "method", msg.Method)
		}
		return
	case msg.IsRequest():
		wg.Add(1)
		go func() {
			defer wg.Done()
			emit(s.handle(ctx, msg))
		}()
	default:
		// Replies and identifier-less frames without a method have no place
		// on the server side of the stream.
		s.opts.Logger.Debug("server.message.dropped", "id", msg.IDKey())
	}
}

// handle produces the reply for one request.
func (s *Server) handle(ctx context.Context, msg protocol.Message) protocol.Message {
	switch msg.Method {
	case protocol.MethodInitialize:
		return s.result(msg, protocol.InitializeResult{
			ProtocolVersion: protocol.Version,
			ServerInfo:      protocol.ServerInfo{Name: s.opts.Name, Version: s.opts.Version},
			Capabilities:    s.registry.capabilities(),
		})
	case protocol.MethodPing:
		return s.result(msg, struct{}{})
	case protocol.MethodToolsList:
		return s.result(msg, protocol.ToolsListResult{Tools: s.registry.listTools()})
	case protocol.MethodToolsCall:
		return s.handleToolsCall(ctx, msg)
	case protocol.MethodResourcesList:
		return s.result(msg, protocol.ResourcesListResult{Resources: s.registry.listResources()})
	case protocol.MethodResourcesRead:
		return s.handleResourcesRead(ctx, msg)
	case protocol.MethodPromptsList:
		return s.result(msg, protocol.PromptsListResult{Prompts: s.registry.listPrompts()})
	case protocol.MethodPromptsGet:
		return s.handlePromptsGet(ctx, msg)
	default:
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "unknown method %q", msg.Method)
	}
}

func (s *Server) handleToolsCall(ctx context.Context, msg protocol.Message) protocol.Message {
	var params protocol.ToolsCallParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "tools/call: %v", err)
	}
	if params.Name == "" {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "tools/call requires a name")
	}
	def, ok := s.registry.tool(params.Name)
	if !ok {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "unknown tool %q", params.Name)
	}

	args := map[string]any{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return protocol.NewError(msg.ID, protocol.GenericErrorCode, "tools/call arguments: %v", err)
		}
	}
	if def.InputSchema != nil {
		if err := util.ValidateParameters(args, def.InputSchema); err != nil {
			return protocol.NewError(msg.ID, protocol.GenericErrorCode, "tool %q: %v", def.Name, err)
		}
	}

	result, err := def.Handler(ctx, args)
	if err != nil {
		s.opts.Logger.Warn("server.tool.failed", "tool", def.Name, "error", err.Error())
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "tool %q: %v", def.Name, err)
	}
	return s.result(msg, result)
}

func (s *Server) handleResourcesRead(ctx context.Context, msg protocol.Message) protocol.Message {
	var params protocol.ResourcesReadParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "resources/read: %v", err)
	}
	if params.URI == "" {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "resources/read requires a uri")
	}
	def, ok := s.registry.resource(params.URI)
	if !ok {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "unknown resource %q", params.URI)
	}
	result, err := def.Handler(ctx, params.URI)
	if err != nil {
		s.opts.Logger.Warn("server.resource.failed", "uri", def.URI, "error", err.Error())
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "resource %q: %v", def.URI, err)
	}
	return s.result(msg, result)
}

func (s *Server) handlePromptsGet(ctx context.Context, msg protocol.Message) protocol.Message {
	var params protocol.PromptsGetParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "prompts/get: %v", err)
	}
	if params.Name == "" {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "prompts/get requires a name")
	}
	def, ok := s.registry.prompt(params.Name)
	if !ok {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "unknown prompt %q", params.Name)
	}

	args := map[string]any{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return protocol.NewError(msg.ID, protocol.GenericErrorCode, "prompts/get arguments: %v", err)
		}
	}
	result, err := def.Handler(ctx, args)
	if err != nil {
		s.opts.Logger.Warn("server.prompt.failed", "prompt", def.Name, "error", err.Error())
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "prompt %q: %v", def.Name, err)
	}
	return s.result(msg, result)
}

func (s *Server) result(msg protocol.Message, payload any) protocol.Message {
	reply, err := protocol.NewResult(msg.ID, payload)
	if err != nil {
		return protocol.NewError(msg.ID, protocol.GenericErrorCode, "encode result for %q: %v", msg.Method, err)
	}
	return reply
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed params: %v", err)
	}
	return nil
}
