package importer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Use-Tusk/buildsentry/internal/config"
)

// scopePrefixes returns the prefixes of imported scopes matching the write
// flag, excluding the baseline root scope config.Default() always seeds.
func scopePrefixes(scopes []config.ScopeConfig, write bool) []string {
	var out []string
	for _, s := range scopes {
		if s.Prefix == "/" {
			continue
		}
		if write && !s.AllowWrite {
			continue
		}
		if !write && s.AllowWrite {
			continue
		}
		out = append(out, s.Prefix)
	}
	return out
}

func TestConvertClaudeToBuildSentry(t *testing.T) {
	t.Run("read deny rules become zero-value deny scopes", func(t *testing.T) {
		cfg := ConvertClaudeToBuildSentry(&ClaudeSettings{
			Permissions: ClaudePermissions{
				Deny: []string{"Read(./.env)", "Read(./secrets/**)"},
			},
		})
		assert.ElementsMatch(t, []string{"./.env", "./secrets/**"}, scopePrefixes(cfg.Scopes, false))
	})

	t.Run("write allow rules become allow-write scopes", func(t *testing.T) {
		cfg := ConvertClaudeToBuildSentry(&ClaudeSettings{
			Permissions: ClaudePermissions{
				Allow: []string{"Write(./dist/**)", "Write(./build)"},
			},
		})
		assert.ElementsMatch(t, []string{"./dist/**", "./build"}, scopePrefixes(cfg.Scopes, true))
	})

	t.Run("write and edit deny rules become deny scopes", func(t *testing.T) {
		cfg := ConvertClaudeToBuildSentry(&ClaudeSettings{
			Permissions: ClaudePermissions{
				Deny: []string{"Write(./.git/**)", "Edit(./package-lock.json)"},
			},
		})
		assert.ElementsMatch(t, []string{"./.git/**", "./package-lock.json"}, scopePrefixes(cfg.Scopes, false))
	})

	t.Run("bash deny rules become forced-deny-exec entries", func(t *testing.T) {
		cfg := ConvertClaudeToBuildSentry(&ClaudeSettings{
			Permissions: ClaudePermissions{
				Deny: []string{"Bash(curl:*)", "Bash(sudo:*)", "Bash(rm -rf /)"},
			},
		})
		assert.ElementsMatch(t, []string{"rm"}, cfg.ForcedDenyExec.Names)
		assert.ElementsMatch(t, []string{"curl*", "sudo*"}, cfg.ForcedDenyExec.Patterns)
	})

	t.Run("bash and read allow rules produce no scope", func(t *testing.T) {
		cfg := ConvertClaudeToBuildSentry(&ClaudeSettings{
			Permissions: ClaudePermissions{
				Allow: []string{"Bash(npm run lint)", "Read(./README.md)"},
			},
		})
		assert.Empty(t, scopePrefixes(cfg.Scopes, true))
		assert.Empty(t, scopePrefixes(cfg.Scopes, false))
		assert.Empty(t, cfg.ForcedDenyExec.Names)
		assert.Empty(t, cfg.ForcedDenyExec.Patterns)
	})

	t.Run("ask rules are folded into deny", func(t *testing.T) {
		cfg := ConvertClaudeToBuildSentry(&ClaudeSettings{
			Permissions: ClaudePermissions{
				Ask: []string{"Write(./config.json)", "Bash(npm publish)"},
			},
		})
		assert.ElementsMatch(t, []string{"./config.json"}, scopePrefixes(cfg.Scopes, false))
		assert.Contains(t, cfg.ForcedDenyExec.Names, "npm")
	})

	t.Run("global tool rules are skipped", func(t *testing.T) {
		cfg := ConvertClaudeToBuildSentry(&ClaudeSettings{
			Permissions: ClaudePermissions{
				Allow: []string{"Read", "Grep", "LS"},
				Deny:  []string{"Edit"},
			},
		})
		assert.Empty(t, scopePrefixes(cfg.Scopes, true))
		assert.Empty(t, scopePrefixes(cfg.Scopes, false))
	})
}

func TestClaudeCommandToExecMatch(t *testing.T) {
	tests := []struct {
		input       string
		wantName    string
		wantPattern string
	}{
		{"npm:*", "", "npm*"},
		{"curl:*", "", "curl*"},
		{"npm run test:*", "", "npm*"},
		{"git status", "git", ""},
		{"sudo rm -rf", "sudo", ""},
		{"", "", ""},
		{"  npm  ", "npm", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, pattern := claudeCommandToExecMatch(tt.input)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantPattern, pattern)
		})
	}
}

func TestLoadClaudeSettings(t *testing.T) {
	t.Run("valid settings", func(t *testing.T) {
		tmpDir := t.TempDir()
		settingsPath := filepath.Join(tmpDir, "settings.json")

		content := `{
  "permissions": {
    "allow": ["Bash(npm install)", "Read"],
    "deny": ["Bash(sudo:*)"],
    "ask": ["Write"]
  }
}`
		err := os.WriteFile(settingsPath, []byte(content), 0o600) //nolint:gosec // test file
		require.NoError(t, err)

		settings, err := LoadClaudeSettings(settingsPath)
		require.NoError(t, err)

		assert.Equal(t, []string{"Bash(npm install)", "Read"}, settings.Permissions.Allow)
		assert.Equal(t, []string{"Bash(sudo:*)"}, settings.Permissions.Deny)
		assert.Equal(t, []string{"Write"}, settings.Permissions.Ask)
	})

	t.Run("settings with comments (JSONC)", func(t *testing.T) {
		tmpDir := t.TempDir()
		settingsPath := filepath.Join(tmpDir, "settings.json")

		content := `{
  // This is a comment
  "permissions": {
    "allow": ["Bash(npm install)"],
    "deny": [], // Another comment
    "ask": []
  }
}`
		err := os.WriteFile(settingsPath, []byte(content), 0o600) //nolint:gosec // test file
		require.NoError(t, err)

		settings, err := LoadClaudeSettings(settingsPath)
		require.NoError(t, err)

		assert.Equal(t, []string{"Bash(npm install)"}, settings.Permissions.Allow)
	})

	t.Run("empty file", func(t *testing.T) {
		tmpDir := t.TempDir()
		settingsPath := filepath.Join(tmpDir, "settings.json")

		err := os.WriteFile(settingsPath, []byte(""), 0o600) //nolint:gosec // test file
		require.NoError(t, err)

		settings, err := LoadClaudeSettings(settingsPath)
		require.NoError(t, err)
		assert.NotNil(t, settings)
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadClaudeSettings("/nonexistent/path/settings.json")
		assert.Error(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		tmpDir := t.TempDir()
		settingsPath := filepath.Join(tmpDir, "settings.json")

		err := os.WriteFile(settingsPath, []byte("not json"), 0o600) //nolint:gosec // test file
		require.NoError(t, err)

		_, err = LoadClaudeSettings(settingsPath)
		assert.Error(t, err)
	})
}

func TestImportFromClaude(t *testing.T) {
	t.Run("successful import with default extends", func(t *testing.T) {
		tmpDir := t.TempDir()
		settingsPath := filepath.Join(tmpDir, "settings.json")

		content := `{
  "permissions": {
    "allow": ["Bash(npm install)", "Write(./dist/**)"],
    "deny": ["Bash(curl:*)", "Read(./.env)"],
    "ask": ["Bash(git push)"]
  }
}`
		err := os.WriteFile(settingsPath, []byte(content), 0o600) //nolint:gosec // test file
		require.NoError(t, err)

		result, err := ImportFromClaude(settingsPath, DefaultImportOptions())
		require.NoError(t, err)

		assert.Equal(t, settingsPath, result.SourcePath)
		assert.Equal(t, 5, result.RulesImported)
		assert.Equal(t, "base.json", result.Config.Extends)

		assert.Contains(t, result.Config.ForcedDenyExec.Patterns, "curl*")
		assert.Contains(t, result.Config.ForcedDenyExec.Names, "git")
		assert.Contains(t, scopePrefixes(result.Config.Scopes, true), "./dist/**")
		assert.Contains(t, scopePrefixes(result.Config.Scopes, false), "./.env")
	})

	t.Run("import with no extend", func(t *testing.T) {
		tmpDir := t.TempDir()
		settingsPath := filepath.Join(tmpDir, "settings.json")

		content := `{"permissions": {"allow": ["Bash(npm install)"], "deny": [], "ask": []}}`
		err := os.WriteFile(settingsPath, []byte(content), 0o600) //nolint:gosec // test file
		require.NoError(t, err)

		opts := ImportOptions{Extends: ""}
		result, err := ImportFromClaude(settingsPath, opts)
		require.NoError(t, err)

		assert.Equal(t, "", result.Config.Extends)
	})

	t.Run("import with custom extend", func(t *testing.T) {
		tmpDir := t.TempDir()
		settingsPath := filepath.Join(tmpDir, "settings.json")

		content := `{"permissions": {"allow": ["Bash(npm install)"], "deny": [], "ask": []}}`
		err := os.WriteFile(settingsPath, []byte(content), 0o600) //nolint:gosec // test file
		require.NoError(t, err)

		opts := ImportOptions{Extends: "local-dev"}
		result, err := ImportFromClaude(settingsPath, opts)
		require.NoError(t, err)

		assert.Equal(t, "local-dev", result.Config.Extends)
	})

	t.Run("warnings for global rules", func(t *testing.T) {
		tmpDir := t.TempDir()
		settingsPath := filepath.Join(tmpDir, "settings.json")

		content := `{
  "permissions": {
    "allow": ["Read", "Grep", "Bash(npm install)"],
    "deny": ["Edit"],
    "ask": ["Write"]
  }
}`
		err := os.WriteFile(settingsPath, []byte(content), 0o600) //nolint:gosec // test file
		require.NoError(t, err)

		result, err := ImportFromClaude(settingsPath, DefaultImportOptions())
		require.NoError(t, err)

		assert.Len(t, result.Warnings, 4)

		warningsStr := strings.Join(result.Warnings, " ")
		assert.Contains(t, warningsStr, "Read")
		assert.Contains(t, warningsStr, "Grep")
		assert.Contains(t, warningsStr, "Edit")
		assert.Contains(t, warningsStr, "Write")
		assert.Contains(t, warningsStr, "skipped")
	})
}

func TestWriteConfig(t *testing.T) {
	tmpDir := t.TempDir()
	outputPath := filepath.Join(tmpDir, "buildsentry.json")

	cfg := &config.Config{}
	cfg.ForcedDenyExec.Names = []string{"curl"}
	cfg.Scopes = []config.ScopeConfig{{Prefix: "./.env"}}

	err := WriteConfig(cfg, outputPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath) //nolint:gosec // test reads file we just wrote
	require.NoError(t, err)

	assert.Contains(t, string(data), `"curl"`)
	assert.Contains(t, string(data), `"./.env"`)
}

func TestMarshalConfigJSON(t *testing.T) {
	t.Run("omits empty sections", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.ForcedDenyExec.Names = []string{"curl"}

		data, err := MarshalConfigJSON(cfg)
		require.NoError(t, err)

		output := string(data)
		assert.Contains(t, output, `"curl"`)
		assert.NotContains(t, output, `"forcedPtrace"`)
		assert.NotContains(t, output, `"scopes"`)
	})

	t.Run("includes extends field", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Extends = "base"
		cfg.ForcedDenyExec.Names = []string{"curl"}

		data, err := MarshalConfigJSON(cfg)
		require.NoError(t, err)

		assert.Contains(t, string(data), `"extends": "base"`)
	})
}

func TestFormatConfigWithComment(t *testing.T) {
	t.Run("adds comment when extends is set", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Extends = "base"
		cfg.ForcedDenyExec.Names = []string{"curl"}

		output, err := FormatConfigWithComment(cfg)
		require.NoError(t, err)

		assert.Contains(t, output, `// This config extends "base".`)
		assert.Contains(t, output, `"curl"`)
	})

	t.Run("no comment when extends is empty", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.ForcedDenyExec.Names = []string{"curl"}

		output, err := FormatConfigWithComment(cfg)
		require.NoError(t, err)

		assert.NotContains(t, output, "//")
		assert.Contains(t, output, `"curl"`)
	})
}

func TestIsGlobalToolRule(t *testing.T) {
	tests := []struct {
		rule     string
		expected bool
	}{
		{"Read", true},
		{"Write", true},
		{"Grep", true},
		{"LS", true},
		{"Bash", true},
		{"Read(./.env)", false},
		{"Write(./dist/**)", false},
		{"Bash(npm install)", false},
		{"Bash(curl:*)", false},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			assert.Equal(t, tt.expected, isGlobalToolRule(tt.rule))
		})
	}
}

func TestAppendUnique(t *testing.T) {
	tests := []struct {
		name     string
		slice    []string
		value    string
		expected []string
	}{
		{"append to empty", []string{}, "a", []string{"a"}},
		{"append new value", []string{"a", "b"}, "c", []string{"a", "b", "c"}},
		{"skip duplicate", []string{"a", "b"}, "a", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := appendUnique(tt.slice, tt.value)
			assert.Equal(t, tt.expected, result)
		})
	}
}
