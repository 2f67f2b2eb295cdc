/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/ttsd/internal/config"
	"github.com/blacktop/ttsd/internal/state"
	"github.com/blacktop/ttsd/internal/supervisor"
)

// usageError marks bad invocations; the root command prints usage for them.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// noArgs rejects positional arguments with a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf("unexpected argument %q for %q", args[0], cmd.CommandPath())
	}
	return nil
}

// app carries everything the commands touch outside the process, so tests
// can swap the OS for fakes.
type app struct {
	v          *viper.Viper
	proc       supervisor.Process
	platform   state.Platform
	getenv     func(string) string
	executable func() (string, error)
	sleep      func(time.Duration)
}

func defaultApp() *app {
	return &app{
		v:          config.NewViper(),
		proc:       supervisor.OSProcess{},
		platform:   state.CurrentPlatform(),
		getenv:     os.Getenv,
		executable: os.Executable,
	}
}

func (a *app) config() (*config.Config, error) {
	return config.Load(a.v)
}

// configOrDefault is used by stop and status, which keep working with
// broken settings.
func (a *app) configOrDefault() *config.Config {
	return config.LoadOrDefault(a.v)
}

func (a *app) supervisor(cfg *config.Config) (*supervisor.Supervisor, error) {
	dir, err := state.ResolveDir(a.platform, cfg.StateDir, a.getenv)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state directory: %w", err)
	}
	exe, err := a.executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate ttsd executable: %w", err)
	}
	log.Debug("Using state directory", "dir", dir)

	return supervisor.New(state.New(dir, cfg.FallbackPort()), a.proc, supervisor.Options{
		Command: exe,
		Args: func(port int) []string {
			return []string{"serve", "--port", strconv.Itoa(port)}
		},
		PollInterval: cfg.PollInterval,
		StopTimeout:  cfg.StopTimeout,
		Sleep:        a.sleep,
	}), nil
}

func newRootCmd(a *app) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "ttsd",
		Short: "Run the TTS speech server in the background",
		Long: `ttsd starts, stops and reports on a background TTS (text-to-speech) HTTP server.

The server listens on a single port and speaks text POSTed to /speak.
Its pid and metadata are kept in a state directory, which can be
overridden with TTSD_STATE_DIR. The default port comes from TTSD_PORT,
falling back to ` + strconv.Itoa(config.DefaultPort) + `.`,
		Args: cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := config.LogLevel(a.v, verbose)
			if err != nil {
				log.Warn("Using default log level", "error", err)
			}
			log.SetLevel(lvl)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable verbose debug logging")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.AddCommand(newStartCmd(a))
	rootCmd.AddCommand(newStopCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// run executes the CLI and returns the process exit code.
func run(a *app, args []string, stdout, stderr io.Writer) int {
	log.SetOutput(stderr)

	// cobra falls back to os.Args for a nil slice.
	if args == nil {
		args = []string{}
	}

	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	cmd, err := rootCmd.ExecuteContextC(context.Background())
	if err == nil {
		return 0
	}

	log.Error(err.Error())
	var uerr *usageError
	if errors.As(err, &uerr) || isCobraUsageError(err) {
		if cmd == nil {
			cmd = rootCmd
		}
		fmt.Fprint(stderr, cmd.UsageString())
	}
	return 1
}

// isCobraUsageError matches argument errors that cobra raises before any of
// our hooks run.
func isCobraUsageError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	os.Exit(run(defaultApp(), os.Args[1:], os.Stdout, os.Stderr))
}
