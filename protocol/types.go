package protocol

import "encoding/json"

// RPC method surface shared by the client and server engines.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"

	// NotificationInitialized is accepted by the server and produces no reply.
	NotificationInitialized = "notifications/initialized"
)

// ServerInfo identifies a worker's server engine.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities declares which capability groups a server has registrations
// for. Empty structs act as presence markers, mirroring the wire shape.
type Capabilities struct {
	Tools     *struct{} `json:"tools,omitempty"`
	Resources *struct{} `json:"resources,omitempty"`
	Prompts   *struct{} `json:"prompts,omitempty"`
}

// InitializeResult is the static identity returned by the initialize method.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ToolInfo is the declarative part of a tool registration.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolsListResult is the reply payload for tools/list.
type ToolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// ToolsCallParams are the request parameters for tools/call.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ResourceInfo is the declarative part of a resource registration.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourcesListResult is the reply payload for resources/list.
type ResourcesListResult struct {
	Resources []ResourceInfo `json:"resources"`
}

// ResourcesReadParams are the request parameters for resources/read.
type ResourcesReadParams struct {
	URI string `json:"uri"`
}

// PromptInfo is the declarative part of a prompt registration.
type PromptInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PromptsListResult is the reply payload for prompts/list.
type PromptsListResult struct {
	Prompts []PromptInfo `json:"prompts"`
}

// PromptsGetParams are the request parameters for prompts/get.
type PromptsGetParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
