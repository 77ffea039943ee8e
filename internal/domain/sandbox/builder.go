package sandbox

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/agen-co/agenshield/internal/domain/graph"
	"github.com/agen-co/agenshield/internal/domain/pattern"
	"github.com/agen-co/agenshield/internal/domain/policy"
)

// privateMetaDirName is the agent-private metadata directory under the
// agent home. The directory itself is denied; its workspace subdirectory
// is read-allowed so skills can see their own manifests.
const privateMetaDirName = ".openclaw"

// knownNetworkCommands are command basenames assumed to need egress even
// when no policy says so. They default to proxy mode instead of none.
var knownNetworkCommands = map[string]struct{}{
	"curl": {}, "wget": {}, "git": {}, "npm": {}, "npx": {},
	"yarn": {}, "pnpm": {}, "pip": {}, "pip3": {}, "brew": {},
	"apt": {}, "ssh": {}, "scp": {}, "rsync": {}, "fetch": {},
	"http": {}, "nc": {}, "ncat": {}, "node": {}, "deno": {}, "bun": {},
}

// AcquireProxyFunc allocates a per-run egress proxy for an exec and
// returns the local port it listens on.
type AcquireProxyFunc func(execID, command string) (int, error)

// ResolveBinaryFunc resolves symlinks for an absolute binary path. It is
// injectable so tests do not depend on the host filesystem.
type ResolveBinaryFunc func(path string) (string, error)

// Config carries the host layout the builder bakes into every spec.
type Config struct {
	// AgentHome is the agent's home directory, added as writable.
	AgentHome string
	// ShieldBinDir holds the shield's own binaries.
	ShieldBinDir string
	// UserHome is the invoking user's home, for brew/nvm/bin allowances.
	UserHome string
	// BrokerHTTPPort is passed through informationally.
	BrokerHTTPPort int
}

// Input is everything a single exec decision contributes to its spec.
type Input struct {
	ExecID  string
	Command string
	// Matched is the winning policy, or nil on a default-action exec.
	Matched *policy.Policy
	// Policies is the effective set before command-scope aggregation.
	Policies []policy.Policy
	Ctx      *policy.ExecutionContext
	// Effects is the graph aggregate for the matched policy, or nil.
	Effects *graph.Effects
	// AcquireProxy allocates this exec's egress proxy. The caller binds
	// the pool and the live policy getters into the closure. Nil means
	// proxy mode falls back to no network.
	AcquireProxy AcquireProxyFunc
}

// Builder translates an exec decision into a Spec.
type Builder struct {
	cfg        Config
	resolveBin ResolveBinaryFunc
	logger     *slog.Logger
}

// NewBuilder creates a Builder. resolveBin defaults to
// filepath.EvalSymlinks when nil.
func NewBuilder(cfg Config, resolveBin ResolveBinaryFunc, logger *slog.Logger) *Builder {
	if resolveBin == nil {
		resolveBin = filepath.EvalSymlinks
	}
	return &Builder{cfg: cfg, resolveBin: resolveBin, logger: logger}
}

// Build constructs the spec for one exec. Every field is populated,
// possibly empty; the caller can hand the result to the executor as-is.
func (b *Builder) Build(in Input) *Spec {
	spec := &Spec{
		Enabled:           true,
		AllowedReadPaths:  []string{},
		AllowedWritePaths: []string{},
		DeniedPaths:       []string{},
		EnvInjection:      map[string]string{},
		EnvDeny:           []string{"NODE_OPTIONS"},
		BrokerHTTPPort:    b.cfg.BrokerHTTPPort,
	}

	basename := pattern.CommandBasename(in.Command)
	slice := policy.ForCommand(in.Policies, in.Command, in.Ctx)

	spec.DeniedPaths = append(spec.DeniedPaths, pattern.ExtractConcrete(denyPathPatterns(slice))...)

	readPats, writePats := allowPathPatterns(slice)
	spec.AllowedReadPaths = append(spec.AllowedReadPaths, readPats...)
	spec.AllowedWritePaths = append(spec.AllowedWritePaths, writePats...)

	b.addBinary(spec, in.Command)
	b.addHomeAllowances(spec)

	if in.Effects != nil {
		spec.AllowedReadPaths = append(spec.AllowedReadPaths, in.Effects.GrantedFSPaths.Read...)
		spec.AllowedWritePaths = append(spec.AllowedWritePaths, in.Effects.GrantedFSPaths.Write...)
		for name, value := range in.Effects.InjectedSecrets {
			spec.EnvInjection[name] = value
		}
	}

	b.applyNetworkMode(spec, in, basename)
	return spec
}

// denyPathPatterns collects the raw patterns of enabled deny policies with
// target=filesystem, plus command-target deny policies that cover at least
// one file operation. Order is preserved across policies.
func denyPathPatterns(slice []policy.Policy) []string {
	var out []string
	for _, p := range slice {
		if !p.Enabled || p.Action != policy.ActionDeny {
			continue
		}
		switch p.Target {
		case policy.TargetFilesystem:
			out = append(out, p.Patterns...)
		case policy.TargetCommand:
			if p.AllowsAnyOf(policy.OpFileRead, policy.OpFileWrite, policy.OpFileList) && len(p.Operations) > 0 {
				out = append(out, p.Patterns...)
			}
		}
	}
	return out
}

// allowPathPatterns splits the patterns of enabled allow policies by
// access mode. Filesystem-target policies always participate (an empty
// operations filter grants read); command-target policies participate
// when their operations name at least one file operation, mirroring the
// deny side.
func allowPathPatterns(slice []policy.Policy) (read, write []string) {
	for _, p := range slice {
		if !p.Enabled || p.Action != policy.ActionAllow {
			continue
		}
		switch p.Target {
		case policy.TargetFilesystem:
			if len(p.Operations) == 0 || p.AllowsAnyOf(policy.OpFileRead, policy.OpFileList) {
				read = append(read, p.Patterns...)
			}
			if len(p.Operations) > 0 && p.AppliesTo(policy.OpFileWrite) {
				write = append(write, p.Patterns...)
			}
		case policy.TargetCommand:
			if len(p.Operations) == 0 {
				continue
			}
			if p.AllowsAnyOf(policy.OpFileRead, policy.OpFileList) {
				read = append(read, p.Patterns...)
			}
			if p.AppliesTo(policy.OpFileWrite) {
				write = append(write, p.Patterns...)
			}
		}
	}
	return read, write
}

// addBinary records the exec's binary path and, when resolvable, the
// symlink target behind it.
func (b *Builder) addBinary(spec *Spec, command string) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(command), "fork:"))
	fields := strings.Fields(s)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}
	bin := fields[0]
	spec.AllowedBinaries = append(spec.AllowedBinaries, bin)

	if b.resolveBin == nil {
		return
	}
	real, err := b.resolveBin(bin)
	if err != nil || real == bin || real == "" {
		return
	}
	spec.AllowedBinaries = append(spec.AllowedBinaries, real)
}

func (b *Builder) addHomeAllowances(spec *Spec) {
	if b.cfg.AgentHome != "" {
		spec.AllowedWritePaths = append(spec.AllowedWritePaths, b.cfg.AgentHome)

		meta := filepath.Join(b.cfg.AgentHome, privateMetaDirName)
		spec.DeniedPaths = append(spec.DeniedPaths, meta)
		spec.AllowedReadPaths = append(spec.AllowedReadPaths, filepath.Join(meta, "workspace"))
	}
	if b.cfg.ShieldBinDir != "" {
		spec.AllowedBinaries = append(spec.AllowedBinaries, b.cfg.ShieldBinDir)
	}
	if b.cfg.UserHome != "" {
		spec.AllowedBinaries = append(spec.AllowedBinaries,
			filepath.Join(b.cfg.UserHome, ".brew", "bin"),
			filepath.Join(b.cfg.UserHome, ".nvm"),
			filepath.Join(b.cfg.UserHome, "bin"),
		)
	}
}

// applyNetworkMode resolves the spec's network posture. Graph network
// grants force proxy mode; otherwise the matched policy's hint wins;
// otherwise known network commands default to proxy and everything else
// to no network.
func (b *Builder) applyNetworkMode(spec *Spec, in Input, basename string) {
	mode := policy.NetworkNone
	switch {
	case in.Effects != nil && len(in.Effects.GrantedNetworkPatterns) > 0:
		mode = policy.NetworkProxy
	case in.Matched != nil && in.Matched.NetworkAccess != "":
		mode = in.Matched.NetworkAccess
	default:
		if _, ok := knownNetworkCommands[strings.ToLower(basename)]; ok {
			mode = policy.NetworkProxy
		}
	}

	switch mode {
	case policy.NetworkDirect:
		spec.NetworkAllowed = true

	case policy.NetworkProxy:
		if in.AcquireProxy == nil {
			b.logger.Warn("proxy mode requested but no pool wired, denying network",
				"exec_id", in.ExecID, "command", basename)
			return
		}
		port, err := in.AcquireProxy(in.ExecID, in.Command)
		if err != nil {
			b.logger.Warn("proxy acquisition failed, denying network",
				"exec_id", in.ExecID, "error", err)
			return
		}
		spec.NetworkAllowed = true
		spec.AllowedHosts = []string{"localhost"}

		addr := fmt.Sprintf("http://127.0.0.1:%d", port)
		for _, key := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY"} {
			spec.EnvInjection[key] = addr
			spec.EnvInjection[strings.ToLower(key)] = addr
		}
		spec.EnvInjection["AGENSHIELD_EXEC_ID"] = in.ExecID
		spec.EnvInjection["NO_PROXY"] = ""
	}
}
