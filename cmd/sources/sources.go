// Package sources lists the audio sources available on this machine.
package sources

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/kapt/internal/audio"
)

// Command creates the sources command.
func Command() *cobra.Command {
	var pactl string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List PulseAudio sources that can be recorded",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := audio.NewEnumerator(pactl, time.Second).Sources(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			for _, s := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\n", s.Index, s.Name, s.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&pactl, "pactl", "pactl", "Path to pactl")
	return cmd
}
