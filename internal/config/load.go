package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

// Load reads a manifest-source file, resolving its Extends chain, and
// returns the fully merged Config. A relative Extends path is resolved
// against the directory of the file that names it, so a project can check
// in a shared base file and have nested package configs extend it with
// "../base.json".
func Load(path string) (*Config, error) {
	return load(path, make(map[string]bool))
}

func load(path string, seen map[string]bool) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	if seen[abs] {
		return nil, fmt.Errorf("config: extends cycle at %s", abs)
	}
	seen[abs] = true

	data, err := os.ReadFile(abs) //nolint:gosec // project-provided manifest source path
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", abs, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", abs, err)
	}

	if cfg.Extends == "" {
		return cfg, nil
	}

	parentPath := cfg.Extends
	if !filepath.IsAbs(parentPath) {
		parentPath = filepath.Join(filepath.Dir(abs), parentPath)
	}
	parent, err := load(parentPath, seen)
	if err != nil {
		return nil, err
	}

	// Re-unmarshal this file's JSON onto a copy of the parent: scalar and
	// string fields the child sets override the parent's value; fields the
	// child omits keep whatever the parent (or its own ancestors) already
	// set. json.Unmarshal replaces slice fields wholesale rather than
	// merging them, so scopes/forced-ptrace/forced-deny-exec are restored
	// below as parent-then-child concatenations instead of a raw replace:
	// a project extending a shared base file expects the base's scopes to
	// still apply, with its own entries adding to (or, via the radix tree's
	// longest-matching-prefix rule at lookup time, overriding) them.
	childScopes := cfg.Scopes
	childForcedPtraceNames := cfg.ForcedPtrace.Names
	childForcedPtracePatterns := cfg.ForcedPtrace.Patterns
	childForcedDenyExecNames := cfg.ForcedDenyExec.Names
	childForcedDenyExecPatterns := cfg.ForcedDenyExec.Patterns

	merged := *parent
	if err := json.Unmarshal(jsonc.ToJSON(data), &merged); err != nil {
		return nil, fmt.Errorf("config: merge %s: %w", abs, err)
	}
	merged.Extends = ""
	merged.Scopes = append(append([]ScopeConfig{}, parent.Scopes...), childScopes...)
	merged.ForcedPtrace.Names = append(append([]string{}, parent.ForcedPtrace.Names...), childForcedPtraceNames...)
	merged.ForcedPtrace.Patterns = append(append([]string{}, parent.ForcedPtrace.Patterns...), childForcedPtracePatterns...)
	merged.ForcedDenyExec.Names = append(append([]string{}, parent.ForcedDenyExec.Names...), childForcedDenyExecNames...)
	merged.ForcedDenyExec.Patterns = append(append([]string{}, parent.ForcedDenyExec.Patterns...), childForcedDenyExecPatterns...)
	return &merged, nil
}

// Compile turns a fully resolved manifest source into the wire format the
// observer's packages consume at runtime. pipID and rootPid are assigned by
// the caller (the compiler CLI), not read from the source file.
func Compile(cfg *Config, pipID uint64, rootPid int32) (manifestfmt.RawManifest, error) {
	if len(cfg.Scopes) == 0 {
		return manifestfmt.RawManifest{}, fmt.Errorf("config: manifest source defines no scopes")
	}

	raw := manifestfmt.RawManifest{
		PipID:                  pipID,
		PidOfRootProcess:       rootPid,
		ReportPipePath:         cfg.ReportPipePath,
		PreloadLibraryPath:     cfg.PreloadLibraryPath,
		PtraceMQName:           cfg.PtraceMQName,
		ForcedPtraceNames:      cfg.ForcedPtrace.Names,
		ForcedDenyExec:         resolveForcedDenyExecNames(cfg.ForcedDenyExec.Names),
		ForcedPtracePatterns:   cfg.ForcedPtrace.Patterns,
		ForcedDenyExecPatterns: cfg.ForcedDenyExec.Patterns,
	}

	raw.Flags = compileFlags(cfg)

	for _, s := range cfg.Scopes {
		if s.Prefix == "" {
			return manifestfmt.RawManifest{}, fmt.Errorf("config: scope with empty prefix")
		}
		raw.Scopes = append(raw.Scopes, manifestfmt.ScopeEntry{
			Prefix: normalizeScopePrefix(s.Prefix),
			Policy: manifestfmt.ScopePolicy{
				AllowRead:        s.AllowRead,
				AllowWrite:       s.AllowWrite,
				AllowProbe:       s.AllowProbe,
				ReportExplicitly: s.ReportExplicitly,
				IsWriteableMount: s.IsWriteableMount,
			},
		})
	}

	return raw, nil
}

func compileFlags(cfg *Config) manifestfmt.ExtraFlags {
	var flags manifestfmt.ExtraFlags
	if cfg.MonitorChildren {
		flags |= manifestfmt.FlagMonitorChildren
	}
	if cfg.PtraceEnabled {
		flags |= manifestfmt.FlagPtraceEnabled
	}
	if cfg.PtraceUnconditional {
		flags |= manifestfmt.FlagPtraceUnconditional
	}
	if cfg.FailOnUnexpectedAccess {
		flags |= manifestfmt.FlagFailOnUnexpectedAccess
	}
	if cfg.ReportFileAccessesOnly {
		flags |= manifestfmt.FlagReportFileAccessesOnly
	}
	return flags
}
