package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FileWriteOptions controls config file formatting behavior.
type FileWriteOptions struct {
	// HeaderLines are written above the JSON content (one line per entry).
	// Lines are written as provided; callers can include comment prefixes.
	HeaderLines []string
}

// cleanScopeConfig is used for JSON output with omitempty to skip empty fields.
type cleanScopeConfig struct {
	Prefix           string `json:"prefix"`
	AllowRead        bool   `json:"allowRead,omitempty"`
	AllowWrite       bool   `json:"allowWrite,omitempty"`
	AllowProbe       bool   `json:"allowProbe,omitempty"`
	ReportExplicitly bool   `json:"reportExplicitly,omitempty"`
	IsWriteableMount bool   `json:"isWriteableMount,omitempty"`
}

// cleanForcedPtraceConfig is used for JSON output with omitempty to skip empty fields.
type cleanForcedPtraceConfig struct {
	Names    []string `json:"names,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

// cleanForcedDenyExecConfig is used for JSON output with omitempty to skip empty fields.
type cleanForcedDenyExecConfig struct {
	Names    []string `json:"names,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

// cleanConfig is used for JSON output with fields in desired order and omitempty.
type cleanConfig struct {
	Extends string `json:"extends,omitempty"`

	MonitorChildren        bool `json:"monitorChildren,omitempty"`
	PtraceEnabled          bool `json:"ptraceEnabled,omitempty"`
	PtraceUnconditional    bool `json:"ptraceUnconditional,omitempty"`
	FailOnUnexpectedAccess bool `json:"failOnUnexpectedAccess,omitempty"`
	ReportFileAccessesOnly bool `json:"reportFileAccessesOnly,omitempty"`

	PreloadLibraryPath string `json:"preloadLibraryPath,omitempty"`
	ReportPipePath     string `json:"reportPipePath,omitempty"`
	PtraceMQName       string `json:"ptraceMQName,omitempty"`

	Scopes         []cleanScopeConfig         `json:"scopes,omitempty"`
	ForcedPtrace   *cleanForcedPtraceConfig   `json:"forcedPtrace,omitempty"`
	ForcedDenyExec *cleanForcedDenyExecConfig `json:"forcedDenyExec,omitempty"`
}

// MarshalConfigJSON marshals a manifest source to clean JSON, omitting empty
// sections and with fields in a logical order (extends first).
func MarshalConfigJSON(cfg *Config) ([]byte, error) {
	clean := cleanConfig{
		Extends:                cfg.Extends,
		MonitorChildren:        cfg.MonitorChildren,
		PtraceEnabled:          cfg.PtraceEnabled,
		PtraceUnconditional:    cfg.PtraceUnconditional,
		FailOnUnexpectedAccess: cfg.FailOnUnexpectedAccess,
		ReportFileAccessesOnly: cfg.ReportFileAccessesOnly,
		PreloadLibraryPath:     cfg.PreloadLibraryPath,
		ReportPipePath:         cfg.ReportPipePath,
		PtraceMQName:           cfg.PtraceMQName,
	}

	for _, s := range cfg.Scopes {
		clean.Scopes = append(clean.Scopes, cleanScopeConfig{
			Prefix:           s.Prefix,
			AllowRead:        s.AllowRead,
			AllowWrite:       s.AllowWrite,
			AllowProbe:       s.AllowProbe,
			ReportExplicitly: s.ReportExplicitly,
			IsWriteableMount: s.IsWriteableMount,
		})
	}

	forcedPtrace := cleanForcedPtraceConfig{
		Names:    cfg.ForcedPtrace.Names,
		Patterns: cfg.ForcedPtrace.Patterns,
	}
	if !isForcedPtraceEmpty(forcedPtrace) {
		clean.ForcedPtrace = &forcedPtrace
	}

	forcedDenyExec := cleanForcedDenyExecConfig{
		Names:    cfg.ForcedDenyExec.Names,
		Patterns: cfg.ForcedDenyExec.Patterns,
	}
	if !isForcedDenyExecEmpty(forcedDenyExec) {
		clean.ForcedDenyExec = &forcedDenyExec
	}

	return json.MarshalIndent(clean, "", "  ")
}

func isForcedPtraceEmpty(f cleanForcedPtraceConfig) bool {
	return len(f.Names) == 0 && len(f.Patterns) == 0
}

func isForcedDenyExecEmpty(f cleanForcedDenyExecConfig) bool {
	return len(f.Names) == 0 && len(f.Patterns) == 0
}

// FormatConfigForFile returns config JSON with optional header lines.
func FormatConfigForFile(cfg *Config, opts FileWriteOptions) (string, error) {
	data, err := MarshalConfigJSON(cfg)
	if err != nil {
		return "", err
	}

	var output strings.Builder
	for _, line := range opts.HeaderLines {
		output.WriteString(line)
		output.WriteByte('\n')
	}
	output.Write(data)
	output.WriteByte('\n')

	return output.String(), nil
}

// WriteConfigFile writes a manifest source to a file with optional header lines.
func WriteConfigFile(cfg *Config, path string, opts FileWriteOptions) error {
	output, err := FormatConfigForFile(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, []byte(output), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
