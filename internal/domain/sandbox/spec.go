// Package sandbox builds the sandbox specification handed to a
// host-specific executor alongside an allowed exec decision.
package sandbox

// Spec is the wire form of a sandbox specification. It is constructed once
// per exec and never mutated afterwards. The executor translates it into
// its own profile language; the spec only promises that every entry in
// DeniedPaths is a concrete absolute path.
type Spec struct {
	Enabled           bool              `json:"enabled"`
	AllowedReadPaths  []string          `json:"allowedReadPaths"`
	AllowedWritePaths []string          `json:"allowedWritePaths"`
	DeniedPaths       []string          `json:"deniedPaths"`
	NetworkAllowed    bool              `json:"networkAllowed"`
	AllowedHosts      []string          `json:"allowedHosts,omitempty"`
	AllowedPorts      []int             `json:"allowedPorts,omitempty"`
	AllowedBinaries   []string          `json:"allowedBinaries,omitempty"`
	DeniedBinaries    []string          `json:"deniedBinaries,omitempty"`
	EnvInjection      map[string]string `json:"envInjection,omitempty"`
	EnvDeny           []string          `json:"envDeny"`
	EnvAllow          []string          `json:"envAllow,omitempty"`
	BrokerHTTPPort    int               `json:"brokerHttpPort,omitempty"`
}
