package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clouddisk/cloudsync/internal/client/handlers"
	"github.com/clouddisk/cloudsync/internal/client/sync"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of the running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			ctl, err := newCtlClient(ctlTimeout)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch output {
			case "json", "yaml":
				var raw map[string]any
				if err := ctl.do(cmd.Context(), http.MethodGet, "/v1/status", &raw); err != nil {
					return err
				}
				return printStructured(out, output, raw)
			case "text", "":
				var status handlers.StatusResponse
				if err := ctl.do(cmd.Context(), http.MethodGet, "/v1/status", &status); err != nil {
					return err
				}
				printStatus(out, &status)
				return nil
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	return cmd
}

func printStructured(w io.Writer, format string, v any) error {
	var (
		data []byte
		err  error
	)
	if format == "yaml" {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func printStatus(w io.Writer, s *handlers.StatusResponse) {
	row := func(label, value string) {
		fmt.Fprintf(w, "%-14s %s\n", gray.Render(label), value)
	}

	row("Agent", fmt.Sprintf("%s (%s)", s.Version, s.Revision))
	if s.Uptime != "" {
		row("Uptime", s.Uptime)
	}
	row("State", stateStyle(s.Sync.State))

	syncDir := s.Sync.SyncDir
	if syncDir == "" {
		syncDir = yellow.Render("not configured")
	}
	row("Sync dir", syncDir)

	cursor := gray.Render("none")
	if s.Sync.Cursor != nil {
		cursor = fmt.Sprintf("%d", *s.Sync.Cursor)
	}
	row("Cursor", cursor)
	row("Local event", relTime(s.Sync.LastLocalEventAt))
	row("Remote sync", relTime(s.Sync.LastRemoteSyncAt))

	if s.Sync.LastError != "" {
		row("Last error", red.Render(s.Sync.LastError))
	}
	if s.Disk != nil {
		row("Disk", fmt.Sprintf("%s free of %s", humanize.Bytes(s.Disk.Free), humanize.Bytes(s.Disk.Total)))
	}
	row("API", fmt.Sprintf("%d requests, %d failed, %s sent, %s received",
		s.API.Requests, s.API.Failures, humanize.Bytes(uint64(s.API.BytesSent)), humanize.Bytes(uint64(s.API.BytesRecv))))
}

func stateStyle(state sync.State) string {
	switch state {
	case sync.StateRunning:
		return green.Render(string(state))
	case sync.StateError:
		return red.Render(string(state))
	case sync.StateStarting:
		return yellow.Render(string(state))
	}
	return gray.Render(string(state))
}

func relTime(t *time.Time) string {
	if t == nil {
		return gray.Render("never")
	}
	return humanize.Time(*t)
}
