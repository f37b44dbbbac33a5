// Package daytona provides a thin HTTP client for the external Daytona
// sandbox service: create, configure, start, stop, and delete operations
// on remote sandbox resources.
package daytona

import "time"

// ResourceConfig describes compute resources assigned to a sandbox.
type ResourceConfig struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	Disk   string `json:"disk,omitempty"`
}

// Sandbox is a remote, ephemeral development environment instance as
// reported by the Daytona service. The client never retains sandbox state
// beyond a single call.
type Sandbox struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Template  string            `json:"template"`
	Status    string            `json:"status"`
	Resources *ResourceConfig   `json:"resources,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	URL       string            `json:"url,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
}

// CreateSandboxRequest holds the parameters for provisioning a sandbox.
type CreateSandboxRequest struct {
	Name      string            `json:"name"`
	Template  string            `json:"template"`
	Image     string            `json:"image,omitempty"`
	Resources *ResourceConfig   `json:"resources,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// SandboxConfiguration holds mutable settings applied to an existing sandbox.
type SandboxConfiguration struct {
	Resources *ResourceConfig   `json:"resources,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}
