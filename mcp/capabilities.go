package mcp

import "slices"

// LatestProtocolVersion is the newest protocol revision this module speaks.
const LatestProtocolVersion = "2025-11-25"

// SupportedProtocolVersions lists every revision accepted during
// initialization, newest first.
var SupportedProtocolVersions = []string{LatestProtocolVersion, "2025-06-18", "2025-03-26"}

// NegotiateProtocolVersion returns requested when it is supported and the
// latest revision otherwise; the client decides whether to continue.
func NegotiateProtocolVersion(requested string) string {
	if slices.Contains(SupportedProtocolVersions, requested) {
		return requested
	}
	return LatestProtocolVersion
}

// ImplementationInfo names one side of the connection.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ClientCapabilities is what the client declares it can answer. Only the
// parts that server-initiated task traffic relies on are modelled.
type ClientCapabilities struct {
	Elicitation *struct{} `json:"elicitation,omitempty"`
	Sampling    *struct{} `json:"sampling,omitempty"`
	Tasks       *struct{} `json:"tasks,omitempty"`
}

// ListChangedCapability is advertised for every catalog list whose changes
// are announced with a list_changed notification.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesCapability adds per-resource subscriptions.
type ResourcesCapability struct {
	ListChanged bool `json:"listChanged"`
	Subscribe   bool `json:"subscribe"`
}

// ServerCapabilities is returned from initialize.
type ServerCapabilities struct {
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
	Resources *ResourcesCapability   `json:"resources,omitempty"`
	Tasks     *TasksCapability       `json:"tasks,omitempty"`
}
