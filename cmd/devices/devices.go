package devices

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/device"
)

// Command lists playback devices.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List playback devices of the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := device.ListDevices(rt.Settings.Device.Backend)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tDEFAULT\tNAME\tID")
			for _, info := range infos {
				def := ""
				if info.IsDefault {
					def = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", info.Index, def, info.Name, info.ID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("backend", "", "Audio backend: auto, alsa, pulse, jack, coreaudio, wasapi, null")
	return cmd
}
