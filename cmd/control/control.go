// Package control sends commands to a running kapt daemon.
package control

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/kapt/internal/client"
	"github.com/tphakala/kapt/internal/conf"
	"github.com/tphakala/kapt/internal/controller"
)

const defaultAddr = "127.0.0.1:7575"

// Commands creates the client commands: activate, deactivate, kapture,
// status and set.
func Commands(load func() (*conf.Settings, error)) []*cobra.Command {
	var addr string

	// newClient resolves the daemon address from --addr or the config file.
	newClient := func() *client.Client {
		if addr != "" {
			return client.New(addr)
		}
		if settings, err := load(); err == nil && settings.Server.Listen != "" {
			return client.New(settings.Server.Listen)
		}
		return client.New(defaultAddr)
	}

	cmds := []*cobra.Command{
		activateCommand(newClient),
		deactivateCommand(newClient),
		kaptureCommand(newClient),
		statusCommand(newClient),
		setCommand(newClient),
	}
	for _, c := range cmds {
		c.PersistentFlags().StringVar(&addr, "addr", "", "Address of the kapt daemon (default from config)")
	}
	return cmds
}

func activateCommand(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Start background capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Activate(cmd.Context())
			if err != nil {
				return err
			}
			if resp.Changed {
				fmt.Println("capture activated")
			} else {
				fmt.Println("capture already active")
			}
			return nil
		},
	}
}

func deactivateCommand(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Stop background capture and discard the buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Deactivate(cmd.Context())
			if err != nil {
				return err
			}
			if resp.Changed {
				fmt.Println("capture deactivated")
			} else {
				fmt.Println("capture was not active")
			}
			return nil
		},
	}
}

func kaptureCommand(newClient func() *client.Client) *cobra.Command {
	var (
		length time.Duration
		at     string
	)

	cmd := &cobra.Command{
		Use:   "kapture",
		Short: "Save the last moments as a clip",
		Long:  "Write a clip of the given length ending now, or at --at, from the daemon's rolling buffer.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var end time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at time: %w", err)
				}
				end = t
			}

			resp, err := newClient().Kapture(cmd.Context(), end, length)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s, %d segments)\n", resp.Path,
				time.Duration(resp.DurationMs)*time.Millisecond, resp.Segments)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&length, "length", "l", 0, "Clip length, e.g. 30s (default from config)")
	cmd.Flags().StringVar(&at, "at", "", "End the clip at this RFC 3339 time instead of now")
	return cmd
}

func statusCommand(newClient func() *client.Client) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's capture state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func printStatus(st *controller.Status) {
	state := "inactive"
	if st.Active {
		state = "active (session " + st.SessionID + ")"
	}
	fmt.Printf("capture:       %s\n", state)
	fmt.Printf("recording:     %d slots\n", st.RecordingSlots)
	fmt.Printf("buffered:      %d chunks", st.BufferedChunks)
	if st.BufferedChunks > 0 && st.SpanEnd > st.SpanStart {
		span := time.Duration(st.SpanEnd-st.SpanStart) * time.Millisecond
		fmt.Printf(", %s since %s", span.Round(time.Second), time.UnixMilli(st.SpanStart).Format(time.TimeOnly))
	}
	fmt.Println()
	fmt.Printf("cache budget:  %ds\n", st.CacheBudgetSec)
	fmt.Printf("audio source:  %s\n", st.AudioSource)
	fmt.Printf("output folder: %s\n", st.OutputFolder)
}

func setCommand(newClient func() *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change a setting of the running daemon",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "audio-source NAME",
			Short: "Record from another PulseAudio source",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := newClient().SetAudioSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("audio source: %s\n", st.AudioSource)
				return nil
			},
		},
		&cobra.Command{
			Use:   "output-folder PATH",
			Short: "Write clips to another folder",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := newClient().SetOutputFolder(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("output folder: %s\n", st.OutputFolder)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cache-budget DURATION",
			Short: "Keep this much history, e.g. 2m",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration: %w", err)
				}
				st, err := newClient().SetCacheBudget(cmd.Context(), d)
				if err != nil {
					return err
				}
				fmt.Printf("cache budget: %ds\n", st.CacheBudgetSec)
				return nil
			},
		},
	)
	return cmd
}
