package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/utimer/internal/controlplane"
	"github.com/fentz26/utimer/internal/duration"
	"github.com/fentz26/utimer/internal/tui"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse <text>",
	Short: "Show how a duration is understood",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParse,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cancelled timers older than the retention window",
	RunE:  runCleanup,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show timer and scheduler statistics",
	RunE:  runStats,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print fire events as they happen",
	RunE:  runWatch,
}

var (
	parseOffline bool
	cleanupDays  int
	statsJSON    bool
)

func init() {
	parseCmd.Flags().BoolVar(&parseOffline, "offline", false, "Parse locally without the daemon")
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Keep timers newer than this many days (default from config)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print raw JSON")
}

func runParse(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	var res duration.Result
	if parseOffline {
		r, ok := duration.Parse(text)
		if !ok {
			return fmt.Errorf("cannot parse %q", text)
		}
		res = r
	} else if err := apiGet("/parse?text="+url.QueryEscape(text), &res); err != nil {
		return err
	}

	fmt.Printf("%s = %d seconds (%s)\n", res.DisplayText, res.Seconds, res.EnglishText())
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	var res controlplane.CleanupResponse
	if err := apiPost("/maintenance/cleanup", map[string]int{"days": cleanupDays}, &res); err != nil {
		return err
	}
	fmt.Printf("Removed %s old %s\n", humanize.Comma(int64(res.Removed)), plural(res.Removed, "timer", "timers"))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats controlplane.StatsResponse
	if err := apiGet("/stats", &stats); err != nil {
		return err
	}

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	t := stats.Tasks
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Timers:\t%d\n", t.Total)
	fmt.Fprintf(w, "  running\t%d\n", t.Running)
	fmt.Fprintf(w, "  pending\t%d\n", t.Pending)
	fmt.Fprintf(w, "  cancelled\t%d\n", t.Cancelled)
	fmt.Fprintf(w, "Total time:\t%s\n", duration.Format(t.TotalDuration))
	fmt.Fprintf(w, "Average:\t%s\n", duration.Format(t.AverageDuration))
	fmt.Fprintf(w, "Scheduler:\t\n")
	for _, key := range []string{"armed_task", "polling", "poll_interval", "sweeps", "fired"} {
		fmt.Fprintf(w, "  %s\t%v\n", key, stats.Scheduler[key])
	}
	return w.Flush()
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := tui.NewClient(apiAddr).Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Watching for timers... (Ctrl+C to stop)")
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		fmt.Printf("[%s] %s: %s (%s, via %s)\n",
			ev.FiredAt.Local().Format(time.TimeOnly),
			ev.TimerName,
			ev.Message,
			duration.Format(ev.OriginalDurationSeconds),
			ev.Source,
		)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
