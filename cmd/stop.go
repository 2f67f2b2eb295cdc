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
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/blacktop/ttsd/internal/supervisor"
)

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background TTS server",
		Long: `Stop sends the server a termination signal and waits for it to exit.

If it is still running after TTSD_STOP_TIMEOUT (5s by default) it is killed.
Stopping a server that is not running is not an error.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.configOrDefault()
			sup, err := a.supervisor(cfg)
			if err != nil {
				return err
			}

			res, err := sup.Stop()
			if err != nil {
				if res.Outcome != supervisor.ForceStopped {
					return err
				}
				// The record is gone either way; report and carry on.
				log.Warn("Forced stop reported an error", "error", err)
			}

			out := cmd.OutOrStdout()
			switch res.Outcome {
			case supervisor.NotRunning:
				fmt.Fprintln(out, "ttsd is not running")
			case supervisor.StaleCleared:
				fmt.Fprintf(out, "ttsd is not running (removed stale record for pid %d)\n", res.Record.PID)
			case supervisor.Stopped:
				fmt.Fprintf(out, "%s ttsd (pid %d)\n", stoppedStyle.Render("Stopped"), res.Record.PID)
			case supervisor.ForceStopped:
				fmt.Fprintf(out, "%s ttsd (pid %d) after %s\n", warnStyle.Render("Force-stopped"), res.Record.PID, cfg.StopTimeout)
			}
			return nil
		},
	}
}
