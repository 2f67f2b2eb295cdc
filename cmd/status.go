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
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/blacktop/ttsd/internal/supervisor"
)

var (
	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	stoppedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	labelStyle   = lipgloss.NewStyle().Faint(true).Width(9)
)

// statusReport is the --json output of the status command.
type statusReport struct {
	Running      bool   `json:"running"`
	StaleRemoved bool   `json:"stale_removed,omitempty"`
	PID          int    `json:"pid,omitempty"`
	Port         int    `json:"port,omitempty"`
	StartedAt    string `json:"started_at,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the background TTS server is running",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.configOrDefault()
			sup, err := a.supervisor(cfg)
			if err != nil {
				return err
			}
			res, err := sup.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				report := statusReport{
					Running:      res.Outcome == supervisor.Running,
					StaleRemoved: res.Outcome == supervisor.StaleCleared,
				}
				if report.Running {
					report.PID = res.Record.PID
					report.Port = res.Record.Port
					report.StartedAt = res.Record.StartedAt
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			switch res.Outcome {
			case supervisor.Running:
				fmt.Fprintf(out, "ttsd is %s\n", runningStyle.Render("running"))
				fmt.Fprintf(out, "  %s%d\n", labelStyle.Render("pid:"), res.Record.PID)
				fmt.Fprintf(out, "  %s%d\n", labelStyle.Render("port:"), res.Record.Port)
				fmt.Fprintf(out, "  %s%s\n", labelStyle.Render("started:"), res.Record.StartedAt)
			case supervisor.StaleCleared:
				fmt.Fprintf(out, "ttsd is %s (stale record removed)\n", stoppedStyle.Render("stopped"))
			default:
				fmt.Fprintf(out, "ttsd is %s\n", stoppedStyle.Render("stopped"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	return cmd
}
