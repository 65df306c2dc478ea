// Command buildsentryd launches a build step under the access observer and,
// for statically linked children, hosts the ptrace fallback tracer that
// watches them directly.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/hlandau/service.v1"

	"github.com/Use-Tusk/buildsentry/internal/access"
	"github.com/Use-Tusk/buildsentry/internal/bootstrap"
	"github.com/Use-Tusk/buildsentry/internal/eventcache"
	"github.com/Use-Tusk/buildsentry/internal/manifest"
	"github.com/Use-Tusk/buildsentry/internal/pathresolve"
	"github.com/Use-Tusk/buildsentry/internal/policy"
	"github.com/Use-Tusk/buildsentry/internal/report"
	"github.com/Use-Tusk/buildsentry/internal/staticlink"
	"github.com/Use-Tusk/buildsentry/internal/tracer"
	"github.com/Use-Tusk/buildsentry/internal/tracerd"
)

var log = logrus.StandardLogger()

func main() {
	rootCmd := &cobra.Command{
		Use:     "buildsentryd",
		Short:   "Run build steps under the buildsentry access observer",
		Version: "dev",
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTraceCmd())
	rootCmd.AddCommand(newTracerDaemonCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("buildsentryd: %v", err)
		os.Exit(1)
	}
}

// newRunCmd launches a command under the observer for manual testing: it
// reads BXL_FAM_PATH from the current environment (set by whatever invoked
// buildsentryd), prepares the child's environment via bootstrap, and runs it
// under a PTY so interactive output and signal forwarding behave normally.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run -- <command> [args...]",
		Short:              "Run a command under the observer, relaying its PTY",
		DisableFlagParsing: false,
		Args:               cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := manifest.Load()
			if err != nil {
				return err
			}

			manifestPath := os.Getenv(manifest.EnvManifestPath)
			env := bootstrap.PrepareChildEnv(os.Environ(), manifestPath, m, m.IsMonitoringChildren())

			execCmd := exec.Command(args[0], args[1:]...) //nolint:gosec // operator-provided build command
			execCmd.Env = env

			cleanup, err := startCommandWithPTY(execCmd)
			if err != nil {
				return fmt.Errorf("buildsentryd: start under pty: %w", err)
			}
			defer cleanup()

			return execCmd.Wait()
		},
	}
	return cmd
}

// newTraceCmd seizes an already-running, statically linked pid and runs the
// ptrace fallback tracer against it in the foreground until the tracee tree
// exits. It is the manual-testing counterpart of the automatic handoff a
// preloaded exec() shim performs when Manifest.ShouldForcePtrace fires.
func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <pid>",
		Short: "Attach the ptrace fallback tracer to a running pid",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("buildsentryd: invalid pid %q: %w", args[0], err)
			}

			m, err := manifest.Load()
			if err != nil {
				return err
			}

			runTracerService(m, pid)
			return nil
		},
	}
	return cmd
}

// newTracerDaemonCmd runs the automatic side of the ptrace handoff: it
// listens on the manifest's POSIX message queue for statically-linked
// children announcing themselves and seizes each one as it arrives, instead
// of requiring an operator to run `trace <pid>` by hand.
func newTracerDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracer-daemon",
		Short: "Listen on the ptrace handoff queue and seize announced tracees",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := manifest.Load()
			if err != nil {
				return err
			}
			if m.PtraceMQName == "" {
				return fmt.Errorf("buildsentryd: manifest has no ptrace queue name")
			}

			d := tracerd.New(log)

			var runErr error
			service.Main(&service.Info{
				Name:      "buildsentryd-tracerd",
				AllowRoot: true,
				NewFunc: func(smgr service.Manager) error {
					smgr.SetStarted()

					errCh := make(chan error, 1)
					go func() { errCh <- d.Run(m.PtraceMQName) }()

					select {
					case runErr = <-errCh:
						return runErr
					case <-smgr.StopChan():
						return nil
					}
				},
			})
			return runErr
		},
	}
	return cmd
}

// runTracerService hosts the tracer's blocking wait loop as a service.v1
// runnable so it participates in the same start/stop signal handling a
// production deployment's process supervisor expects from any long-running
// buildsentry daemon. service.Main blocks for the life of the process (it
// owns daemonization and signal handling) and does not return normally.
func runTracerService(m *manifest.Manifest, pid int) {
	fifoPath := m.ReportPipePath
	w := report.New(fifoPath, nil)

	reporter := &access.Reporter{
		Engine:  policy.New(m),
		Cache:   eventcache.New(),
		Writer:  w,
		PipID:   m.PipID,
		RootPid: m.PidOfRootProcess,
		FatalOnOversize: func(err error) {
			log.Errorf("buildsentryd: report writer: %v", err)
		},
	}

	resolver := pathresolve.New(pathresolve.OSFilesystem{})
	static := staticlink.New(staticlink.NewExecRunner())
	t := tracer.New(m, reporter, resolver, static)

	service.Main(&service.Info{
		Name:      "buildsentryd-tracer",
		AllowRoot: true,
		NewFunc: func(smgr service.Manager) error {
			if err := t.Seize(pid); err != nil {
				return fmt.Errorf("buildsentryd: seize pid %d: %w", pid, err)
			}
			smgr.SetStarted()

			errCh := make(chan error, 1)
			go func() { errCh <- t.Run() }()

			select {
			case err := <-errCh:
				return err
			case <-smgr.StopChan():
				return nil
			}
		},
	})
}
