package main

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/clouddisk/cloudsync/internal/client/handlers"
	"github.com/clouddisk/cloudsync/internal/client/sync"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStartCmd(), newStopCmd(), newSyncNowCmd(), newWatchCmd())
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start syncing in the running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeState(cmd, "/v1/sync/start")
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop syncing, the agent keeps running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeState(cmd, "/v1/sync/stop")
		},
	}
}

func changeState(cmd *cobra.Command, path string) error {
	cmd.SilenceUsage = true
	ctl, err := newCtlClient(ctlTimeout)
	if err != nil {
		return err
	}

	var status sync.Status
	if err := ctl.do(cmd.Context(), http.MethodPost, path, &status); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sync %s\n", stateStyle(status.State))
	return nil
}

func newSyncNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-now",
		Short: "Poll the remote change feed once, right away",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctl, err := newCtlClient(ctlTimeout)
			if err != nil {
				return err
			}

			var res handlers.PollResponse
			if err := ctl.do(cmd.Context(), http.MethodPost, "/v1/sync/now", &res); err != nil {
				return err
			}

			cursor := "none"
			if res.Cursor != nil {
				cursor = fmt.Sprintf("%d", *res.Cursor)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s applied=%d skipped=%d cursor=%s\n",
				green.Render("synced"), res.Applied, res.Skipped, cursor)
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow sync events of the running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctl, err := newCtlClient(0)
			if err != nil {
				return err
			}

			body, err := ctl.stream(cmd.Context(), "/v1/sync/events")
			if err != nil {
				return err
			}
			defer body.Close()

			out := cmd.OutOrStdout()
			var name string
			scanner := bufio.NewScanner(body)
			for scanner.Scan() {
				line := scanner.Text()
				switch {
				case strings.HasPrefix(line, "event:"):
					name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				case strings.HasPrefix(line, "data:"):
					fmt.Fprintln(out, formatEvent(name, strings.TrimSpace(strings.TrimPrefix(line, "data:"))))
				}
			}
			if cmd.Context().Err() != nil {
				return nil
			}
			return scanner.Err()
		},
	}
}

func formatEvent(name, data string) string {
	if name == "status" {
		var s sync.Status
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return data
		}
		return fmt.Sprintf("%s %s", cyan.Render("status"), stateStyle(s.State))
	}

	var ev sync.SyncEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return data
	}
	ts := gray.Render(ev.Time.Format("15:04:05"))
	switch ev.Type {
	case sync.EventLocalBatch:
		parts := make([]string, 0, len(ev.Changes))
		for _, c := range ev.Changes {
			parts = append(parts, c.String())
		}
		return fmt.Sprintf("%s %s %s", ts, cyan.Render("local"), strings.Join(parts, ", "))
	case sync.EventCursorAdvanced:
		if ev.Cursor == nil {
			break
		}
		return fmt.Sprintf("%s %s cursor=%d", ts, cyan.Render("remote"), *ev.Cursor)
	case sync.EventStateChanged:
		return fmt.Sprintf("%s %s", ts, stateStyle(ev.State))
	case sync.EventError:
		return fmt.Sprintf("%s %s", ts, red.Render(ev.Error))
	}
	return fmt.Sprintf("%s %s", ts, data)
}
