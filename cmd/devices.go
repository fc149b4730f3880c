// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"spectro/internal/audio"
	"spectro/internal/tui"

	"github.com/spf13/cobra"
)

func newDevicesCommand(a *app) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"list"},
		Short:   "List available audio devices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			if !interactive {
				return audio.ListDevices(a.out)
			}
			sel, err := tui.PickDevice()
			if err != nil {
				return err
			}
			if sel.Chosen {
				fmt.Fprintf(a.out, "spectro live --device %d --sample-rate %d --channels %d\n",
					sel.DeviceID, sel.SampleRate, sel.Channels)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Browse devices and print the matching live command")
	return cmd
}
