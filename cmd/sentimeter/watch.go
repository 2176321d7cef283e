package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/sentimeter/internal/output"
	"github.com/torosent/sentimeter/internal/runstate"
	"github.com/torosent/sentimeter/internal/websocket"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the load-test status of a running sentimeter server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSetup(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			base, _ := cmd.Flags().GetString("server")
			untilDone, _ := cmd.Flags().GetBool("until-done")
			streamURL, err := websocket.StreamURL(base)
			if err != nil {
				return err
			}

			client := websocket.NewClient(websocket.Config{URL: streamURL, HandshakeTimeout: 10 * time.Second})
			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}
			defer client.Close()
			err = client.Follow(cmd.Context(), newStatusPrinter(cmd.OutOrStdout(), untilDone).handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("server", "http://localhost:8000", "Base URL of the sentimeter server")
	cmd.Flags().Bool("until-done", false, "Exit after the next load test finishes or fails")
	return cmd
}

// statusPrinter writes one line per state change and the full report when a
// run finishes. A run counts as seen once it is observed running, or when a
// run ID other than the one present at connect time shows up already
// finished.
type statusPrinter struct {
	w         io.Writer
	untilDone bool
	sawRun    bool

	connected    bool
	initialRunID string
}

func newStatusPrinter(w io.Writer, untilDone bool) *statusPrinter {
	return &statusPrinter{w: w, untilDone: untilDone}
}

func (p *statusPrinter) handle(st runstate.State) error {
	if _, err := fmt.Fprintln(p.w, formatState(st)); err != nil {
		return err
	}
	if !p.connected {
		p.connected = true
		p.initialRunID = st.RunID
	} else if st.RunID != "" && st.RunID != p.initialRunID {
		p.sawRun = true
	}
	switch st.Status {
	case runstate.StatusRunning:
		p.sawRun = true
	case runstate.StatusFinished:
		if report, ok := output.ReportFromState(st); ok && p.sawRun {
			if err := output.PrintReport(p.w, report); err != nil {
				return err
			}
		}
		if p.untilDone && p.sawRun {
			return websocket.ErrStop
		}
	case runstate.StatusError:
		if p.untilDone && p.sawRun {
			return fmt.Errorf("load test %s failed: %s", st.RunID, st.Error)
		}
	}
	return nil
}

func formatState(st runstate.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] status=%s", time.Now().Format(time.TimeOnly), st.Status)
	if st.RunID != "" {
		fmt.Fprintf(&b, " run_id=%s", st.RunID)
	}
	if st.Config != nil {
		fmt.Fprintf(&b, " target=%s threads=%d duration=%ss",
			st.Config.Target, st.Config.Threads, formatFloat(st.Config.DurationSeconds))
	}
	if st.Result != nil {
		fmt.Fprintf(&b, " successful_requests=%d rpm=%.2f", st.Result.SuccessfulRequests, st.Result.RequestsPerMinute)
	}
	if st.Error != "" {
		fmt.Fprintf(&b, " error=%q", st.Error)
	}
	return b.String()
}

func formatFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}
