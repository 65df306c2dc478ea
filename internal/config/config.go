// Package config defines the JSONC manifest-source schema: the
// human-edited document a project checks in, which the manifestc compiler
// turns into a manifestfmt.RawManifest blob. Field names mirror the wire
// format's vocabulary (scopes, forced ptrace/deny-exec sets and patterns,
// flags) rather than any on-disk sandbox-policy shape.
package config

// ScopeConfig is one filesystem-prefix entry in the manifest source. Prefix
// is matched against absolute, symlink-resolved paths; the deepest matching
// prefix wins, mirroring the compiled manifest's radix lookup.
type ScopeConfig struct {
	Prefix           string `json:"prefix"`
	AllowRead        bool   `json:"allowRead,omitempty"`
	AllowWrite       bool   `json:"allowWrite,omitempty"`
	AllowProbe       bool   `json:"allowProbe,omitempty"`
	ReportExplicitly bool   `json:"reportExplicitly,omitempty"`
	IsWriteableMount bool   `json:"isWriteableMount,omitempty"`
}

// ForcedPtraceConfig names the statically linked binaries (and glob
// patterns over their basenames) that must be ptrace-traced even though the
// interposer's static-link probe would otherwise decide on its own.
type ForcedPtraceConfig struct {
	Names    []string `json:"names,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

// ForcedDenyExecConfig names resolved executable paths (and glob patterns
// over them) whose execs are refused outright rather than merely reported.
type ForcedDenyExecConfig struct {
	Names    []string `json:"names,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

// Config is the decoded manifest source before compilation. Extends names
// another manifest-source file this one is layered on top of; the compiler
// resolves it before any other field is read, so every other field here is
// this document's own delta over its parent.
type Config struct {
	Extends string `json:"extends,omitempty"`

	MonitorChildren         bool `json:"monitorChildren,omitempty"`
	PtraceEnabled           bool `json:"ptraceEnabled,omitempty"`
	PtraceUnconditional     bool `json:"ptraceUnconditional,omitempty"`
	FailOnUnexpectedAccess  bool `json:"failOnUnexpectedAccess,omitempty"`
	ReportFileAccessesOnly  bool `json:"reportFileAccessesOnly,omitempty"`

	PreloadLibraryPath string `json:"preloadLibraryPath,omitempty"`
	ReportPipePath     string `json:"reportPipePath,omitempty"`
	PtraceMQName       string `json:"ptraceMQName,omitempty"`

	Scopes         []ScopeConfig        `json:"scopes,omitempty"`
	ForcedPtrace   ForcedPtraceConfig   `json:"forcedPtrace,omitempty"`
	ForcedDenyExec ForcedDenyExecConfig `json:"forcedDenyExec,omitempty"`
}

// Default returns a manifest source with a single root scope granting read
// and probe access, and nothing else — the minimum a pip needs to run at
// all before the caller adds write scopes for its output directories.
func Default() *Config {
	return &Config{
		Scopes: []ScopeConfig{
			{Prefix: "/", AllowRead: true, AllowProbe: true},
		},
	}
}
