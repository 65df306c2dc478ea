// Package importer converts another tool's permission settings into a
// buildsentry manifest source, so a project that already has Claude Code
// path/command rules gets a starting scope list instead of a blank one.
package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/Use-Tusk/buildsentry/internal/config"
)

// ClaudeSettings represents the Claude Code settings.json structure.
type ClaudeSettings struct {
	Permissions ClaudePermissions `json:"permissions"`
}

// ClaudePermissions represents the permissions block in Claude Code settings.
type ClaudePermissions struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
	Ask   []string `json:"ask"`
}

// ClaudeSettingsPaths returns the standard paths where Claude Code stores settings.
func ClaudeSettingsPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	paths := []string{
		filepath.Join(home, ".claude", "settings.json"),
	}

	cwd, err := os.Getwd()
	if err == nil {
		paths = append(paths,
			filepath.Join(cwd, ".claude", "settings.json"),
			filepath.Join(cwd, ".claude", "settings.local.json"),
		)
	}

	return paths
}

// DefaultClaudeSettingsPath returns the default user-level Claude settings path.
func DefaultClaudeSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "settings.json")
}

// LoadClaudeSettings loads Claude Code settings from a file.
func LoadClaudeSettings(path string) (*ClaudeSettings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided path - intentional
	if err != nil {
		return nil, fmt.Errorf("failed to read Claude settings: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return &ClaudeSettings{}, nil
	}

	var settings ClaudeSettings
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return nil, fmt.Errorf("invalid JSON in Claude settings: %w", err)
	}

	return &settings, nil
}

// ConvertClaudeToBuildSentry converts Claude Code settings to a manifest
// source. Read/Write/Edit path rules become scope entries; Bash command
// rules become forced-deny-exec entries since buildsentry only ever forces
// an exec decision, never grants extra command-level trust. Allow rules for
// Bash and Read have no buildsentry equivalent (everything not explicitly
// scoped is already readable, and buildsentry never grants exec trust) and
// are silently skipped rather than treated as global-tool warnings.
func ConvertClaudeToBuildSentry(settings *ClaudeSettings) *config.Config {
	cfg := config.Default()

	for _, rule := range settings.Permissions.Allow {
		processClaudeRule(rule, cfg, true)
	}
	for _, rule := range settings.Permissions.Deny {
		processClaudeRule(rule, cfg, false)
	}
	// Ask rules have no interactive-prompt equivalent here, so they are
	// folded into deny, same as a denied rule would be.
	for _, rule := range settings.Permissions.Ask {
		processClaudeRule(rule, cfg, false)
	}

	return cfg
}

var bashPattern = regexp.MustCompile(`^Bash\((.+)\)$`)
var readPattern = regexp.MustCompile(`^Read\((.+)\)$`)
var writePattern = regexp.MustCompile(`^Write\((.+)\)$`)
var editPattern = regexp.MustCompile(`^Edit\((.+)\)$`)

func processClaudeRule(rule string, cfg *config.Config, isAllow bool) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return
	}

	if matches := bashPattern.FindStringSubmatch(rule); len(matches) == 2 {
		if !isAllow {
			if name, pattern := claudeCommandToExecMatch(matches[1]); pattern != "" {
				cfg.ForcedDenyExec.Patterns = appendUnique(cfg.ForcedDenyExec.Patterns, pattern)
			} else if name != "" {
				cfg.ForcedDenyExec.Names = appendUnique(cfg.ForcedDenyExec.Names, name)
			}
		}
		return
	}

	if matches := readPattern.FindStringSubmatch(rule); len(matches) == 2 {
		if !isAllow {
			path := normalizeClaudePath(matches[1])
			if path != "" {
				cfg.Scopes = append(cfg.Scopes, config.ScopeConfig{Prefix: path})
			}
		}
		return
	}

	if matches := writePattern.FindStringSubmatch(rule); len(matches) == 2 {
		addWriteScope(cfg, matches[1], isAllow)
		return
	}

	if matches := editPattern.FindStringSubmatch(rule); len(matches) == 2 {
		addWriteScope(cfg, matches[1], isAllow)
		return
	}

	// Bare tool names like "Read" or "Bash" are global permissions with no
	// path/command to anchor a scope on; isGlobalToolRule callers surface
	// these as warnings instead.
}

func addWriteScope(cfg *config.Config, rawPath string, isAllow bool) {
	path := normalizeClaudePath(rawPath)
	if path == "" {
		return
	}
	if isAllow {
		cfg.Scopes = append(cfg.Scopes, config.ScopeConfig{Prefix: path, AllowWrite: true})
	} else {
		cfg.Scopes = append(cfg.Scopes, config.ScopeConfig{Prefix: path})
	}
}

// claudeCommandToExecMatch splits a Claude Bash rule's command into an exec
// basename and, if the rule ended in a ":*" wildcard, a doublestar pattern
// over it instead. Only the first whitespace-delimited token is used — the
// rest is the command's arguments, which have no exec-path equivalent.
func claudeCommandToExecMatch(cmd string) (name, pattern string) {
	cmd = strings.TrimSpace(cmd)
	wildcard := strings.HasSuffix(cmd, ":*")
	cmd = strings.TrimSuffix(cmd, ":*")
	cmd = strings.TrimSpace(cmd)

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", ""
	}
	first := fields[0]

	if wildcard {
		return "", first + "*"
	}
	return first, ""
}

// normalizeClaudePath converts Claude's path format to buildsentry's.
func normalizeClaudePath(path string) string {
	return strings.TrimSpace(path)
}

func appendUnique(slice []string, value string) []string {
	for _, v := range slice {
		if v == value {
			return slice
		}
	}
	return append(slice, value)
}

// ImportResult contains the result of an import operation.
type ImportResult struct {
	Config        *config.Config
	SourcePath    string
	RulesImported int
	Warnings      []string
}

// ImportOptions configures the import behavior.
type ImportOptions struct {
	// Extends names another manifest source this import should extend.
	// Empty string means no extends.
	Extends string
}

// DefaultImportOptions returns the default import options. By default,
// imports extend base.json, the file `manifestc init` writes, so the
// resulting source inherits its readable-system-paths and protected-dotfile
// scopes on top of whatever this import adds.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		Extends: "base.json",
	}
}

// ImportFromClaude imports settings from Claude Code and returns a
// manifest source. If path is empty, it tries the default Claude settings
// path.
func ImportFromClaude(path string, opts ImportOptions) (*ImportResult, error) {
	if path == "" {
		path = DefaultClaudeSettingsPath()
	}
	if path == "" {
		return nil, fmt.Errorf("could not determine Claude settings path")
	}

	settings, err := LoadClaudeSettings(path)
	if err != nil {
		return nil, err
	}

	cfg := ConvertClaudeToBuildSentry(settings)
	if opts.Extends != "" {
		cfg.Extends = opts.Extends
	}

	result := &ImportResult{
		Config:     cfg,
		SourcePath: path,
		RulesImported: len(settings.Permissions.Allow) +
			len(settings.Permissions.Deny) +
			len(settings.Permissions.Ask),
	}

	for _, rule := range settings.Permissions.Allow {
		if isGlobalToolRule(rule) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Global tool permission %q skipped (buildsentry uses path/exec-based rules)", rule))
		}
	}
	for _, rule := range settings.Permissions.Deny {
		if isGlobalToolRule(rule) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Global tool permission %q skipped (buildsentry uses path/exec-based rules)", rule))
		}
	}
	for _, rule := range settings.Permissions.Ask {
		if isGlobalToolRule(rule) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Global tool permission %q skipped (buildsentry uses path/exec-based rules)", rule))
		} else {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Ask rule %q converted to deny (buildsentry has no interactive prompts)", rule))
		}
	}

	return result, nil
}

// isGlobalToolRule checks if a rule is a global tool permission (no path/command specified).
func isGlobalToolRule(rule string) bool {
	rule = strings.TrimSpace(rule)
	return !strings.Contains(rule, "(")
}

// MarshalConfigJSON marshals a manifest source to clean JSON, omitting
// empty arrays and with fields in a logical order (extends first).
func MarshalConfigJSON(cfg *config.Config) ([]byte, error) {
	return config.MarshalConfigJSON(cfg)
}

// FormatConfigWithComment returns the config JSON with a comment header
// explaining that values are inherited from the extended template.
func FormatConfigWithComment(cfg *config.Config) (string, error) {
	return config.FormatConfigForFile(cfg, config.FileWriteOptions{
		HeaderLines: importHeaderLines(cfg),
	})
}

// WriteConfig writes a manifest source to a file.
func WriteConfig(cfg *config.Config, path string) error {
	return config.WriteConfigFile(cfg, path, config.FileWriteOptions{
		HeaderLines: importHeaderLines(cfg),
	})
}

func importHeaderLines(cfg *config.Config) []string {
	if cfg.Extends == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("// This config extends %q.", cfg.Extends),
		fmt.Sprintf("// Scopes and exec rules from %q are inherited.", cfg.Extends),
		"// Only your additional rules are shown below.",
	}
}
