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

	"github.com/spf13/cobra"

	"github.com/blacktop/ttsd/internal/config"
)

func newStartCmd(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the TTS server in the background",
		Long: `Start launches the TTS server detached from the terminal and records its pid.

It fails if a server is already running. The port defaults to TTSD_PORT,
or ` + fmt.Sprint(config.DefaultPort) + ` when that is unset.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}

			var p int
			if cmd.Flags().Changed("port") {
				p, err = config.ParsePort(port)
			} else {
				p, err = cfg.Port()
			}
			if err != nil {
				return &usageError{err: err}
			}

			sup, err := a.supervisor(cfg)
			if err != nil {
				return err
			}
			res, err := sup.Start(p)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s ttsd (pid %d, port %d)\n",
				runningStyle.Render("Started"), res.Record.PID, res.Record.Port)
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port for the TTS server (1-65535)")
	return cmd
}
