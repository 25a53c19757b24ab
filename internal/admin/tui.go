package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiy/petpulse/internal/store"
	"github.com/xiy/petpulse/pkg/types"
)

type tickMsg time.Time

type dashboardMsg struct {
	snap     snapshot
	err      error
	duration time.Duration
}

// snapshot is one refresh worth of dashboard data.
type snapshot struct {
	stats   store.Stats
	ticks   []store.TickLog
	moods   []botMood
	rels    []types.RelationshipData
	reqLogs []store.MCPRequestLog
}

type botMood struct {
	bot   types.Bot
	mood  types.MoodState
	sched types.ScheduleState
	fresh bool
}

type dashboardStore interface {
	Stats(ctx context.Context, now time.Time) (store.Stats, error)
	RecentTickLogs(ctx context.Context, limit int) ([]store.TickLog, error)
	ListBots(ctx context.Context, activeOnly bool) ([]types.Bot, error)
	LoadState(ctx context.Context, botID string) (store.BotState, error)
	ListRelationships(ctx context.Context, botID string, limit int) ([]types.RelationshipData, error)
	RecentMCPRequestLogs(ctx context.Context, limit int) ([]store.MCPRequestLog, error)
}

type model struct {
	ctx      context.Context
	st       dashboardStore
	snap     snapshot
	lastErr  error
	lastTick time.Time
	logLines []string
	maxLogs  int
	limit    int
	width    int
	height   int
}

// Run starts the local admin dashboard.
func Run(ctx context.Context, st dashboardStore) error {
	m := model{ctx: ctx, st: st, maxLogs: 10, limit: 8}
	m = m.appendLog("admin UI started")
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.limit), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.limit), tickCmd())
	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err != nil {
			m = m.appendLog(fmt.Sprintf("refresh error: %v", msg.err))
			break
		}
		m.snap = msg.snap
		m = m.appendLog(fmt.Sprintf(
			"refresh ok bots=%d ticks=%d rels=%d (%s)",
			len(msg.snap.moods),
			len(msg.snap.ticks),
			len(msg.snap.rels),
			formatDuration(msg.duration),
		))
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("petpulse admin")
	meta := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("q to quit • refresh every 2s")

	logBody := "(no log events yet)"
	if len(m.logLines) > 0 {
		logBody = strings.Join(m.logLines, "\n")
	}

	paneWidth := 60
	if m.width > 0 {
		paneWidth = max(40, (m.width-3)/2)
	}
	paneHeight := 9
	if m.height > 0 {
		paneHeight = max(8, (m.height-10)/3)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		meta,
		"",
		joinColumns(
			renderPane("Stats", m.renderStats(), paneWidth, paneHeight),
			renderPane("General Logs", logBody, paneWidth, paneHeight),
		),
		joinColumns(
			renderPane("Bot Moods", formatMoodPane(m.snap.moods), paneWidth, paneHeight),
			renderPane("Recent Ticks", formatTickPane(m.snap.ticks), paneWidth, paneHeight),
		),
		joinColumns(
			renderPane("Relationships", formatRelationshipPane(m.snap.rels), paneWidth, paneHeight),
			renderPane("MCP Requests", formatRequestPane(m.snap.reqLogs), paneWidth, paneHeight),
		),
	)
}

func (m model) renderStats() string {
	s := m.snap.stats
	body := fmt.Sprintf(
		"Bots:            %d (%d active)\nRelationships:   %d\nQueued events:   %d\nTicks logged:    %d\nPosts today:     %d\nLast refresh:    %s",
		s.Bots, s.ActiveBots, s.Relationships, s.PendingEvents, s.Ticks, s.PostsToday,
		formatTime(m.lastTick),
	)
	if m.lastErr != nil {
		body += "\n\nLast error: " + truncateText(compactWhitespace(m.lastErr.Error()), 120)
	}
	return body
}

func fetchDashboardCmd(ctx context.Context, st dashboardStore, limit int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		snap, err := fetchSnapshot(ctx, st, limit, start.UTC())
		return dashboardMsg{snap: snap, err: err, duration: time.Since(start)}
	}
}

func fetchSnapshot(ctx context.Context, st dashboardStore, limit int, now time.Time) (snapshot, error) {
	var snap snapshot
	var err error
	if snap.stats, err = st.Stats(ctx, now); err != nil {
		return snap, err
	}
	if snap.ticks, err = st.RecentTickLogs(ctx, limit); err != nil {
		return snap, err
	}
	bots, err := st.ListBots(ctx, false)
	if err != nil {
		return snap, err
	}
	for _, b := range bots {
		bs, err := st.LoadState(ctx, b.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			snap.moods = append(snap.moods, botMood{bot: b, fresh: true})
		case err != nil:
			return snap, err
		default:
			snap.moods = append(snap.moods, botMood{bot: b, mood: bs.Mood, sched: bs.Schedule})
		}
	}
	if snap.rels, err = st.ListRelationships(ctx, "", limit); err != nil {
		return snap, err
	}
	if snap.reqLogs, err = st.RecentMCPRequestLogs(ctx, limit); err != nil {
		return snap, err
	}
	return snap, nil
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatMoodPane(rows []botMood) string {
	if len(rows) == 0 {
		return "(no bots seeded)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		status := " "
		if !row.bot.Active {
			status = "z"
		}
		if row.fresh {
			lines = append(lines, fmt.Sprintf("%s %-14s never ticked", status, truncateText(row.bot.Name, 14)))
			continue
		}
		lines = append(lines, fmt.Sprintf(
			"%s %-14s %-20s P%+.2f A%+.2f D%+.2f %s %d/day",
			status,
			truncateText(row.bot.Name, 14),
			truncateText(row.mood.CurrentEmotion, 20),
			row.mood.Pleasure, row.mood.Arousal, row.mood.Dominance,
			orDash(row.sched.DailyMoodLabel),
			row.sched.PostsToday,
		))
	}
	return strings.Join(lines, "\n")
}

func formatTickPane(rows []store.TickLog) string {
	if len(rows) == 0 {
		return "(no ticks yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		status := "skip"
		switch {
		case row.ErrorText != "":
			status = "err"
		case row.Posted:
			status = "post"
		}
		detail := row.Reason
		if row.ErrorText != "" {
			detail = row.ErrorText
		}
		line := fmt.Sprintf("[%s] %-4s %-12s h%02d %s",
			formatClock(row.CreatedAt), status, truncateText(row.BotID, 12), row.LocalHour,
			truncateText(compactWhitespace(detail), 40))
		if row.Reflected {
			line += " +reflect"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatRelationshipPane(rows []types.RelationshipData) string {
	if len(rows) == 0 {
		return "(no interactions yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%s <> %s %-12s %+.2f x%d (%s)",
			truncateText(row.PetIDA, 12), truncateText(row.PetIDB, 12),
			row.Sentiment, row.SentimentScore, row.InteractionCount, row.LastInteractionType))
	}
	return strings.Join(lines, "\n")
}

func formatRequestPane(rows []store.MCPRequestLog) string {
	if len(rows) == 0 {
		return "(no MCP requests yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		method := strings.TrimSpace(row.Method)
		if row.ToolName != "" {
			method += ":" + strings.TrimSpace(row.ToolName)
		}
		status := "ok"
		if !row.Success {
			status = "err"
		}
		line := fmt.Sprintf("[%s] %-3s %-30s %4dms",
			formatClock(row.CreatedAt), status, truncateText(method, 30), max(0, row.DurationMS))
		if !row.Success && strings.TrimSpace(row.ErrorText) != "" {
			line += " " + truncateText(compactWhitespace(row.ErrorText), 40)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m model) appendLog(line string) model {
	if strings.TrimSpace(line) == "" {
		return m
	}
	m.logLines = append(m.logLines, fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), line))
	if m.maxLogs <= 0 {
		m.maxLogs = 10
	}
	if len(m.logLines) > m.maxLogs {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
	}
	return m
}

func renderPane(title, body string, width, height int) string {
	style := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	if width > 0 {
		style = style.Width(width)
	}
	if height > 0 {
		style = style.Height(height)
	}
	return style.Render(title + "\n\n" + body)
}

func joinColumns(left, right string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.UTC().Format("15:04:05")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
