// Package tui provides the interactive terminal UI for utimer.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fentz26/utimer/internal/controlplane"
	"github.com/fentz26/utimer/internal/duration"
	"github.com/fentz26/utimer/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	timerItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	modeList  = "list"
	modeInput = "input"

	// refreshEvery is how many one-second ticks pass between list refreshes.
	refreshEvery = 10
)

// App is the main TUI application model.
type App struct {
	client       *Client
	timers       []models.TimerTask
	selectedIdx  int
	input        textinput.Model
	suggestions  *Suggestions
	width        int
	height       int
	mode         string
	message      string
	loading      bool
	daemonOnline bool
	events       *EventStream
	stats        *controlplane.StatsResponse
	now          time.Time
	ticks        int
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "/new 25m focus | /modify 10m | /cancel | /cleanup"
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		suggestions: NewSuggestions(),
		mode:        modeList,
		now:         time.Now(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	if a.events != nil {
		a.events.Close()
	}
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.fetchTimers(),
		a.checkDaemon(),
		a.subscribe(),
		tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.mode == modeInput {
			return a.updateInput(msg)
		}
		return a.updateList(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6

	case timersLoadedMsg:
		a.loading = false
		a.daemonOnline = true
		a.timers = msg.timers
		if a.selectedIdx >= len(a.timers) {
			a.selectedIdx = max(0, len(a.timers)-1)
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		a.now = time.Time(msg)
		a.ticks++
		cmds := []tea.Cmd{tickCmd()}
		if a.ticks%refreshEvery == 0 || a.anyDue() {
			cmds = append(cmds, a.fetchTimers())
		}
		return a, tea.Batch(cmds...)

	case streamReadyMsg:
		a.events = msg.stream
		return a, waitForEvent(msg.stream)

	case firedMsg:
		a.message = fmt.Sprintf("⏰ %s: %s", msg.event.TimerName, msg.event.Message)
		return a, tea.Batch(a.fetchTimers(), waitForEvent(a.events))

	case streamClosedMsg:
		a.events = nil

	case statsLoadedMsg:
		a.stats = msg.stats
		t := msg.stats.Tasks
		a.message = fmt.Sprintf("%d timers: %d running, %d pending, %d cancelled, average %s",
			t.Total, t.Running, t.Pending, t.Cancelled, duration.Format(t.AverageDuration))

	case commandResultMsg:
		a.message = msg.message
		return a, a.fetchTimers()

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	return a, nil
}

func (a *App) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.timers)-1 {
			a.selectedIdx++
		}

	case "r":
		return a, a.fetchTimers()

	case "n":
		return a, a.openInput("/new ")

	case "m":
		if a.selected() != nil {
			return a, a.openInput("/modify ")
		}

	case "x":
		return a, a.executeCommand("/cancel")

	case "s":
		return a, a.executeCommand("/start")

	case "/", ":":
		return a, a.openInput("/")
	}
	return a, nil
}

func (a *App) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit

	case "esc":
		a.closeInput()
		return a, nil

	case "up":
		a.suggestions.Prev()
		return a, nil

	case "down":
		a.suggestions.Next()
		return a, nil

	case "tab", "enter":
		if selected := a.suggestions.Selected(); selected != nil {
			a.input.SetValue("/" + selected.Text + " ")
			a.input.CursorEnd()
			a.suggestions.Update(a.input.Value())
			return a, nil
		}
		if msg.String() == "tab" {
			return a, nil
		}
		line := strings.TrimSpace(a.input.Value())
		a.closeInput()
		return a, a.executeCommand(line)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.suggestions.Update(a.input.Value())
	return a, cmd
}

func (a *App) openInput(prefill string) tea.Cmd {
	a.mode = modeInput
	a.message = ""
	a.input.SetValue(prefill)
	a.input.CursorEnd()
	a.suggestions.Update(prefill)
	return a.input.Focus()
}

func (a *App) closeInput() {
	a.mode = modeList
	a.input.SetValue("")
	a.input.Blur()
	a.suggestions.Update("")
}

func (a *App) selected() *models.TimerTask {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.timers) {
		return nil
	}
	return &a.timers[a.selectedIdx]
}

// anyDue reports whether a displayed timer has reached zero and should
// disappear from the list once the daemon fires it.
func (a *App) anyDue() bool {
	for i := range a.timers {
		if left, ok := a.timers[i].Remaining(a.now); ok && left == 0 && a.timers[i].Status == models.TaskStatusRunning {
			return true
		}
	}
	return false
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	events := lipgloss.NewStyle().Foreground(mutedColor).Render("○ events")
	if a.events != nil {
		events = lipgloss.NewStyle().Foreground(cyanColor).Render("● events")
	}

	header := titleStyle.Render("⏱ utimer")
	header += "  " + daemonStatus + "  " + events

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 20)) + "\n")

	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}
	b.WriteString(a.renderTimerList(contentHeight))

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	if a.mode == modeInput {
		b.WriteString("\n")
		b.WriteString(inputBoxStyle.Render(a.input.View()))
		if a.suggestions.IsVisible() {
			b.WriteString("\n")
			b.WriteString(a.suggestions.Render(a.width))
		}
	}
	b.WriteString("\n")

	var status string
	if a.mode == modeInput {
		status = " Enter:run | Tab:complete | Esc:back"
	} else {
		status = fmt.Sprintf(" Active: %d | ↑↓:nav | n:new | m:modify | x:cancel | s:start | r:refresh | /:command | q:quit", len(a.timers))
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 20)).Render(status))

	return b.String()
}

func (a *App) renderTimerList(height int) string {
	if a.loading && len(a.timers) == 0 {
		return "\n  Loading timers...\n"
	}
	if len(a.timers) == 0 {
		return "\n  " + helpStyle.Render("No active timers. Press n to start one.") + "\n"
	}

	var lines []string
	for i := range a.timers {
		t := &a.timers[i]
		line := fmt.Sprintf("%s  %-24s %s", a.formatStatus(t.Status, i == a.selectedIdx), truncate(t.Name, 24), a.formatCountdown(t))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+line))
		} else {
			lines = append(lines, timerItemStyle.Render("  "+line))
		}
	}

	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	if t := a.selected(); t != nil {
		detail := fmt.Sprintf("  %s · %s · created %s", t.TaskID, t.TimerType, humanize.Time(t.CreatedAt))
		if t.Message != "" {
			detail += " · " + t.Message
		}
		lines = append(lines, "", helpStyle.Render(detail))
	}

	return "\n" + strings.Join(lines, "\n")
}

func (a *App) formatStatus(status models.TaskStatus, plain bool) string {
	var icon string
	var color lipgloss.Color
	switch status {
	case models.TaskStatusPending:
		icon, color = "○", warningColor
	case models.TaskStatusRunning:
		icon, color = "◑", successColor
	case models.TaskStatusCancelled:
		icon, color = "✗", errorColor
	default:
		icon, color = "?", mutedColor
	}
	if plain {
		return icon
	}
	return lipgloss.NewStyle().Foreground(color).Render(icon)
}

func (a *App) formatCountdown(t *models.TimerTask) string {
	left, ok := t.Remaining(a.now)
	if !ok || t.Status == models.TaskStatusPending {
		return "pending · " + duration.Format(t.DurationSeconds)
	}
	if left == 0 {
		return "firing..."
	}
	return formatRemaining(left) + " / " + duration.Format(t.DurationSeconds)
}

// formatRemaining renders a countdown as mm:ss, or h:mm:ss past an hour.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// splitDurationAndName takes the words after /new and finds the duration at
// the front. Two-word durations such as "2 hours" are tried first.
func splitDurationAndName(args []string) (durationText, name string, ok bool) {
	if len(args) == 0 {
		return "", "", false
	}
	if len(args) >= 2 {
		joined := args[0] + " " + args[1]
		if _, ok := duration.Parse(joined); ok {
			return joined, strings.Join(args[2:], " "), true
		}
	}
	if _, ok := duration.Parse(args[0]); ok {
		return args[0], strings.Join(args[1:], " "), true
	}
	return "", "", false
}

func (a *App) fetchTimers() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		timers, err := a.client.ListTimers(true)
		if err != nil {
			return errMsg{err}
		}
		return timersLoadedMsg{timers}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) subscribe() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultClientTimeout)
		defer cancel()
		stream, err := a.client.Subscribe(ctx)
		if err != nil {
			return streamClosedMsg{}
		}
		return streamReadyMsg{stream}
	}
}

func waitForEvent(stream *EventStream) tea.Cmd {
	if stream == nil {
		return nil
	}
	return func() tea.Msg {
		ev, err := stream.Next(context.Background())
		if err != nil {
			return streamClosedMsg{}
		}
		return firedMsg{ev}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) executeCommand(line string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	var selectedID string
	if t := a.selected(); t != nil {
		selectedID = t.TaskID
	}

	return func() tea.Msg {
		switch cmd {
		case "new", "later":
			text, name, ok := splitDurationAndName(args)
			if !ok {
				return commandResultMsg{"Error: usage: new <duration> [name], e.g. new 25m focus"}
			}
			task, err := a.client.CreateTimer(controlplane.CreateRequest{
				Name:         name,
				DurationText: text,
				Deferred:     cmd == "later",
			})
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ %s: %s", task.Name, duration.Format(task.DurationSeconds))}

		case "modify":
			if selectedID == "" {
				return commandResultMsg{"No timer selected"}
			}
			if len(args) == 0 {
				return commandResultMsg{"Error: usage: modify <duration>"}
			}
			task, err := a.client.ModifyTimer(selectedID, strings.Join(args, " "))
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ %s now runs %s", task.Name, duration.Format(task.DurationSeconds))}

		case "cancel":
			if selectedID == "" {
				return commandResultMsg{"No timer selected"}
			}
			task, err := a.client.CancelTimer(selectedID)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Cancelled %s", task.Name)}

		case "start":
			if selectedID == "" {
				return commandResultMsg{"No timer selected"}
			}
			task, err := a.client.StartTimer(selectedID)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Started %s", task.Name)}

		case "cleanup":
			days := 0
			if len(args) > 0 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return commandResultMsg{"Error: usage: cleanup [days]"}
				}
				days = n
			}
			removed, err := a.client.Cleanup(days)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Removed %d old timers", removed)}

		case "stats":
			stats, err := a.client.Stats()
			if err != nil {
				return errMsg{err}
			}
			return statsLoadedMsg{stats}

		case "q", "quit", "exit":
			return tea.Quit()

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: new, modify, cancel, start, cleanup, stats)", cmd)}
		}
	}
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type timersLoadedMsg struct {
	timers []models.TimerTask
}

type daemonStatusMsg struct {
	online bool
}

type statsLoadedMsg struct {
	stats *controlplane.StatsResponse
}

type streamReadyMsg struct {
	stream *EventStream
}

type streamClosedMsg struct{}

type firedMsg struct {
	event models.FireEvent
}

type tickMsg time.Time
