package config

import (
	"os"
	"path/filepath"
)

// systemReadablePaths lists paths a build step almost always needs to read
// to run at all: the toolchain itself, shared libraries, DNS/SSL/locale
// configuration, and the usual language-runtime install directories. A
// project's own manifest source narrows or widens this with its own scopes;
// the radix lookup's longest-matching-prefix rule lets a more specific scope
// override any of these.
func systemReadablePaths() []string {
	paths := []string{
		"/usr",
		"/bin",
		"/sbin",
		"/lib",
		"/lib64",
		"/etc",
		"/proc",
		"/sys",
		"/dev",
		"/opt",
		"/run",
		"/tmp",
		"/usr/local",
		"/opt/homebrew",
		"/nix",
		"/snap",
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return paths
	}

	// Version managers and language runtimes (.nvm, .fnm, .volta, .pyenv,
	// .rbenv, .rvm, .rustup) load libraries and modules from throughout their
	// install directory, not just bin/, so they are listed in full; the
	// remaining entries are bin/ directories only.
	for _, dir := range []string{".nvm", ".fnm", ".volta", ".pyenv", ".rbenv", ".rvm", ".rustup", ".cargo/bin", "go/bin", ".local/bin", "bin", ".bun/bin", ".deno/bin"} {
		paths = append(paths, filepath.Join(home, dir))
	}

	return paths
}

// protectedConfigFiles lists project files that a build step should never
// be allowed to write, even when its own output directory is granted write
// access: they're read at shell/tool startup and a write to one is either
// code execution or exfiltration wearing the shape of a build artifact.
var protectedConfigFiles = []string{
	".gitconfig",
	".gitmodules",
	".bashrc",
	".bash_profile",
	".zshrc",
	".zprofile",
	".profile",
}

// protectedConfigDirs mirrors protectedConfigFiles for directories. .git
// itself is deliberately absent: a build step legitimately needs to write
// inside .git (e.g. `git gc`, index updates) and .git/hooks is denied
// separately by Base() rather than the whole tree.
var protectedConfigDirs = []string{
	".vscode",
	".idea",
}

// Base returns a manifest source covering the filesystem access every build
// step needs regardless of project: the toolchain and system paths are
// readable, and a fixed set of dotfiles, editor directories, and git hooks
// are denied outright. A project's own manifest source extends this file
// and adds the write scopes its build actually needs.
func Base() *Config {
	cfg := &Config{
		Scopes: []ScopeConfig{
			{Prefix: "/", AllowRead: true, AllowProbe: true},
		},
	}

	for _, p := range systemReadablePaths() {
		cfg.Scopes = append(cfg.Scopes, ScopeConfig{
			Prefix:     p,
			AllowRead:  true,
			AllowProbe: true,
		})
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		for _, f := range protectedConfigFiles {
			cfg.Scopes = append(cfg.Scopes, ScopeConfig{Prefix: filepath.Join(home, f)})
		}
		for _, d := range protectedConfigDirs {
			cfg.Scopes = append(cfg.Scopes, ScopeConfig{Prefix: filepath.Join(home, d)})
		}
	}

	// Git hooks run shell code on ordinary operations (commit, push); a
	// build step writing one is privilege escalation disguised as output.
	cfg.Scopes = append(cfg.Scopes, ScopeConfig{Prefix: filepath.Join(".git", "hooks")})

	return cfg
}
