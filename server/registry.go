package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentrelay/agentrelay/protocol"
)

// ToolHandler executes a tool call with already decoded arguments. The return
// value becomes the reply result; a returned error becomes a reply-level
// error. Handlers may block; the server runs each request on its own
// goroutine and writes replies as handlers complete.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ResourceHandler produces the content of a resource for resources/read.
type ResourceHandler func(ctx context.Context, uri string) (any, error)

// PromptHandler renders a prompt for prompts/get.
type PromptHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolDef is a named tool registration: a declarative definition plus the
// owned handler function.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

// ResourceDef is a resource registration keyed by URI.
type ResourceDef struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

// PromptDef is a named prompt registration.
type PromptDef struct {
	Name        string
	Description string
	Handler     PromptHandler
}

// registry holds the three capability groups. Registrations happen once at
// server start and are looked up by exact name/URI afterwards; listing
// preserves registration order.
type registry struct {
	mu        sync.RWMutex
	toolOrder []string
	tools     map[string]ToolDef
	resOrder  []string
	resources map[string]ResourceDef
	prOrder   []string
	prompts   map[string]PromptDef
}

func newRegistry() *registry {
	return &registry{
		tools:     make(map[string]ToolDef),
		resources: make(map[string]ResourceDef),
		prompts:   make(map[string]PromptDef),
	}
}

func (r *registry) addTool(def ToolDef) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("tool registration requires a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	r.toolOrder = append(r.toolOrder, def.Name)
	return nil
}

func (r *registry) addResource(def ResourceDef) error {
	if def.URI == "" || def.Handler == nil {
		return fmt.Errorf("resource registration requires a uri and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[def.URI]; exists {
		return fmt.Errorf("resource %q already registered", def.URI)
	}
	r.resources[def.URI] = def
	r.resOrder = append(r.resOrder, def.URI)
	return nil
}

func (r *registry) addPrompt(def PromptDef) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("prompt registration requires a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.prompts[def.Name]; exists {
		return fmt.Errorf("prompt %q already registered", def.Name)
	}
	r.prompts[def.Name] = def
	r.prOrder = append(r.prOrder, def.Name)
	return nil
}

func (r *registry) tool(name string) (ToolDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

func (r *registry) resource(uri string) (ResourceDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.resources[uri]
	return def, ok
}

func (r *registry) prompt(name string) (PromptDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.prompts[name]
	return def, ok
}

func (r *registry) listTools() []protocol.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]protocol.ToolInfo, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		def := r.tools[name]
		infos = append(infos, protocol.ToolInfo{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return infos
}

func (r *registry) listResources() []protocol.ResourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]protocol.ResourceInfo, 0, len(r.resOrder))
	for _, uri := range r.resOrder {
		def := r.resources[uri]
		infos = append(infos, protocol.ResourceInfo{
			URI:         def.URI,
			Name:        def.Name,
			Description: def.Description,
			MimeType:    def.MimeType,
		})
	}
	return infos
}

func (r *registry) listPrompts() []protocol.PromptInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]protocol.PromptInfo, 0, len(r.prOrder))
	for _, name := range r.prOrder {
		def := r.prompts[name]
		infos = append(infos, protocol.PromptInfo{Name: def.Name, Description: def.Description})
	}
	return infos
}

func (r *registry) capabilities() protocol.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var caps protocol.Capabilities
	if len(r.toolOrder) > 0 {
		caps.Tools = &struct{}{}
	}
	if len(r.resOrder) > 0 {
		caps.Resources = &struct{}{}
	}
	if len(r.prOrder) > 0 {
		caps.Prompts = &struct{}{}
	}
	return caps
}
