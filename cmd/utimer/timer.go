package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/utimer/internal/controlplane"
	"github.com/fentz26/utimer/internal/duration"
	"github.com/fentz26/utimer/internal/models"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <duration>",
	Short: "Start a countdown timer",
	Long: `Start a countdown timer. The duration is free text such as 25, 45秒,
10 minutes or 2h; a bare number means minutes.`,
	Example: `  utimer add 25m --name focus
  utimer add 2 hours --message "stretch"
  utimer add 10 --later`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List timers",
	RunE:    runList,
}

var showCmd = &cobra.Command{
	Use:   "show [timer-id]",
	Short: "Show timer details",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [timer-id]",
	Short: "Cancel a timer",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var modifyCmd = &cobra.Command{
	Use:   "modify [timer-id] <duration>",
	Short: "Restart a timer's countdown with a new length",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runModify,
}

var startCmd = &cobra.Command{
	Use:   "start [timer-id]",
	Short: "Start a timer created with --later",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var (
	timerName    string
	timerMessage string
	timerType    string
	timerLater   bool
	listAll      bool
)

func init() {
	addCmd.Flags().StringVar(&timerName, "name", "", "Timer name (defaults to the duration)")
	addCmd.Flags().StringVar(&timerMessage, "message", "", "Message shown when the timer fires")
	addCmd.Flags().StringVar(&timerType, "type", "", "Timer type (custom, short_break, long_break, hourly, preset)")
	addCmd.Flags().BoolVar(&timerLater, "later", false, "Create the timer without starting it")

	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include cancelled timers")
}

func runAdd(cmd *cobra.Command, args []string) error {
	req := controlplane.CreateRequest{
		Name:         timerName,
		Message:      timerMessage,
		DurationText: strings.Join(args, " "),
		TimerType:    timerType,
		Deferred:     timerLater,
	}

	var task models.TimerTask
	if err := apiPost("/timers", req, &task); err != nil {
		return err
	}

	if task.EndTime != nil {
		fmt.Printf("Started %s (%s), fires at %s\n", task.Name, truncateID(task.TaskID), task.EndTime.Local().Format(time.Kitchen))
	} else {
		fmt.Printf("Created %s (%s), start it with: utimer start %s\n", task.Name, truncateID(task.TaskID), task.TaskID)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	path := "/timers"
	if !listAll {
		path += "?active=true"
	}

	var tasks []models.TimerTask
	if err := apiGet(path, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No timers found")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tDURATION\tREMAINING\tCREATED")
	for i := range tasks {
		t := &tasks[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TaskID,
			truncate(t.Name, 30),
			t.Status,
			duration.Format(t.DurationSeconds),
			remaining(t, now),
			humanize.Time(t.CreatedAt),
		)
	}
	w.Flush()
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	var task models.TimerTask
	if err := apiGet("/timers/"+url.PathEscape(args[0]), &task); err != nil {
		return err
	}

	fmt.Printf("ID:        %s\n", task.TaskID)
	fmt.Printf("Name:      %s\n", task.Name)
	if task.Message != "" {
		fmt.Printf("Message:   %s\n", task.Message)
	}
	fmt.Printf("Status:    %s\n", task.Status)
	fmt.Printf("Type:      %s\n", task.TimerType)
	fmt.Printf("Duration:  %s\n", duration.Format(task.DurationSeconds))
	fmt.Printf("Created:   %s (%s)\n", task.CreatedAt.Local().Format(time.RFC3339), humanize.Time(task.CreatedAt))
	if task.StartedAt != nil {
		fmt.Printf("Started:   %s\n", task.StartedAt.Local().Format(time.RFC3339))
	}
	if task.EndTime != nil {
		fmt.Printf("Ends:      %s (%s)\n", task.EndTime.Local().Format(time.RFC3339), remaining(&task, time.Now()))
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	var task models.TimerTask
	if err := apiPost("/timers/"+url.PathEscape(args[0])+"/cancel", nil, &task); err != nil {
		return err
	}
	fmt.Printf("Cancelled %s\n", task.Name)
	return nil
}

func runModify(cmd *cobra.Command, args []string) error {
	req := controlplane.ModifyRequest{DurationText: strings.Join(args[1:], " ")}

	var task models.TimerTask
	if err := apiPost("/timers/"+url.PathEscape(args[0])+"/modify", req, &task); err != nil {
		return err
	}
	fmt.Printf("%s now runs %s from now\n", task.Name, duration.Format(task.DurationSeconds))
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	var task models.TimerTask
	if err := apiPost("/timers/"+url.PathEscape(args[0])+"/start", nil, &task); err != nil {
		return err
	}
	fmt.Printf("Started %s\n", task.Name)
	return nil
}

// remaining renders the time left on a timer for tables.
func remaining(t *models.TimerTask, now time.Time) string {
	switch {
	case t.Status == models.TaskStatusCancelled:
		return "-"
	case t.Status == models.TaskStatusPending:
		return "not started"
	}
	left, ok := t.Remaining(now)
	if !ok {
		return "-"
	}
	if left == 0 {
		return "due"
	}
	return left.Round(time.Second).String()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
