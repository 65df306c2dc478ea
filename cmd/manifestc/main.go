// Command manifestc compiles a JSONC manifest source into the binary blob
// buildsentryd and the preloaded/ptraced child processes read at runtime,
// and can inspect an already-compiled blob for debugging.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Use-Tusk/buildsentry/internal/config"
	"github.com/Use-Tusk/buildsentry/internal/manifest"
	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

var log = logrus.StandardLogger()

func main() {
	rootCmd := &cobra.Command{
		Use:     "manifestc",
		Short:   "Compile and inspect buildsentry access manifests",
		Version: "dev",
	}

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newCompileCmd())
	rootCmd.AddCommand(newInspectCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("manifestc: %v", err)
		os.Exit(1)
	}
}

func newInitCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a base manifest source with sensible default scopes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if outPath == "" {
				outPath = "base.json"
			}
			opts := config.FileWriteOptions{
				HeaderLines: []string{
					"// Toolchain and system paths are readable; dotfiles, editor",
					"// directories, and .git/hooks are denied. Projects extend this",
					"// file and add the write scopes their build actually needs.",
				},
			}
			if err := config.WriteConfigFile(config.Base(), outPath, opts); err != nil {
				return fmt.Errorf("manifestc: write %s: %w", outPath, err)
			}
			log.Infof("wrote %s", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default: base.json)")
	return cmd
}

func newCompileCmd() *cobra.Command {
	var (
		outPath string
		pipID   uint64
		rootPid int32
	)

	cmd := &cobra.Command{
		Use:   "compile <source.json>",
		Short: "Compile a JSONC manifest source into a binary manifest blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			raw, err := config.Compile(cfg, pipID, rootPid)
			if err != nil {
				return err
			}

			blob, err := manifestfmt.Encode(raw)
			if err != nil {
				return fmt.Errorf("manifestc: encode: %w", err)
			}

			if outPath == "" {
				outPath = args[0] + ".bin"
			}
			if err := os.WriteFile(outPath, blob, 0o600); err != nil {
				return fmt.Errorf("manifestc: write %s: %w", outPath, err)
			}

			log.Infof("wrote %s (%d bytes, %d scopes)", outPath, len(blob), len(raw.Scopes))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default: <source>.bin)")
	cmd.Flags().Uint64Var(&pipID, "pip-id", 1, "pip identifier stamped into the manifest")
	cmd.Flags().Int32Var(&rootPid, "root-pid", 1, "root process pid stamped into the manifest")

	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <manifest.bin>",
		Short: "Print a compiled manifest blob's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := manifest.LoadFromPath(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("pip=%d root_pid=%d\n", m.PipID, m.PidOfRootProcess)
			fmt.Printf("report_pipe=%s\n", m.ReportPipePath)
			fmt.Printf("preload_lib=%s\n", m.PreloadLibraryPath)
			fmt.Printf("ptrace_mq=%s\n", m.PtraceMQName)
			fmt.Printf("monitor_children=%v ptrace_enabled=%v ptrace_unconditional=%v\n",
				m.IsMonitoringChildren(), m.PtraceEnabled(), m.PtraceUnconditional())
			return nil
		},
	}
}
