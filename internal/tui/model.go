// Package tui implements the interactive review session as a Bubble Tea
// program: questions and slash commands in, answers and reports out.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"reviewlens/internal/domain"
)

// Service is the TUI-facing subset of the application service.
type Service interface {
	Ask(ctx context.Context, query, business string, topK int) (domain.Answer, error)
	Search(ctx context.Context, query, business string, topK int) ([]domain.ScoredReview, error)
	Analyze(ctx context.Context, business string) (domain.Answer, error)
	Summary(ctx context.Context, business string) (domain.Answer, error)
	Stats(ctx context.Context, business string) (domain.BusinessStats, error)
	ListBusinesses(ctx context.Context) ([]string, error)
	Info(ctx context.Context) (domain.StoreInfo, error)
}

// Model is the Bubble Tea model for the interactive session.
type Model struct {
	ctx      context.Context
	service  Service
	input    textinput.Model
	viewport viewport.Model
	business string
	topK     int
	status   string
	busy     bool
	ready    bool
}

// resultMsg carries the outcome of one service call back into the event
// loop; service calls run off the loop so generation never freezes the UI.
type resultMsg struct {
	status string
	body   string
	err    error
}

// New creates the interactive model. business may be empty, meaning no
// filter; topK bounds retrieval for questions and searches.
func New(ctx context.Context, service Service, business string, topK int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the reviews, or type /help"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	vp.SetContent(helpText)
	return Model{
		ctx:      ctx,
		service:  service,
		input:    ti,
		viewport: vp,
		business: business,
		topK:     topK,
		status:   "Ready.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and result events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around output and input boxes
		_, oh := outputBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + session line
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + ih + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-oh)
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			return m.submit()
		case "up":
			m.viewport.LineUp(1)
			return m, nil
		case "down":
			m.viewport.LineDown(1)
			return m, nil
		case "pgup":
			m.viewport.ViewUp()
			return m, nil
		case "pgdown":
			m.viewport.ViewDown()
			return m, nil
		}
	case resultMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.status = msg.status
		m.viewport.SetContent(msg.body)
		m.viewport.GotoTop()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit consumes the input line. Session commands apply immediately;
// service commands dispatch asynchronously, one at a time.
func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}
	m.input.SetValue("")
	c := parseCommand(line)
	switch c.kind {
	case cmdQuit:
		return m, tea.Quit
	case cmdHelp:
		m.status = "Ready."
		m.viewport.SetContent(helpText)
		m.viewport.GotoTop()
		return m, nil
	case cmdBusiness:
		m.business = c.arg
		if m.business == "" {
			m.status = "Business filter cleared."
		} else {
			m.status = fmt.Sprintf("Asking about %q now.", m.business)
		}
		return m, nil
	case cmdUnknown:
		m.status = fmt.Sprintf("Unknown command /%s (try /help)", c.arg)
		return m, nil
	case cmdAsk, cmdSearch:
		if c.arg == "" {
			m.status = "The command needs text after it."
			return m, nil
		}
	case cmdAnalyze, cmdSummary, cmdStats:
		if m.business == "" {
			m.status = "Set a business first: /business <name>"
			return m, nil
		}
	}
	m.busy = true
	m.status = "Working..."
	return m, m.run(c)
}

// run executes one service call off the event loop and reports back via
// resultMsg.
func (m Model) run(c command) tea.Cmd {
	ctx, svc := m.ctx, m.service
	business, topK := m.business, m.topK
	return func() tea.Msg {
		switch c.kind {
		case cmdAsk:
			ans, err := svc.Ask(ctx, c.arg, business, topK)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{status: answerStatus(ans), body: renderAnswer(ans)}
		case cmdSearch:
			res, err := svc.Search(ctx, c.arg, business, topK)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{
				status: fmt.Sprintf("%d results for %q", len(res), c.arg),
				body:   renderResults(res),
			}
		case cmdAnalyze:
			ans, err := svc.Analyze(ctx, business)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{status: answerStatus(ans), body: renderAnswer(ans)}
		case cmdSummary:
			ans, err := svc.Summary(ctx, business)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{status: answerStatus(ans), body: renderAnswer(ans)}
		case cmdStats:
			st, err := svc.Stats(ctx, business)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{status: "Statistics ready.", body: renderStats(st)}
		case cmdList:
			names, err := svc.ListBusinesses(ctx)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{
				status: fmt.Sprintf("%d businesses indexed.", len(names)),
				body:   renderBusinesses(names),
			}
		case cmdInfo:
			info, err := svc.Info(ctx)
			if err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{status: "Store info.", body: renderInfo(info)}
		}
		return resultMsg{err: fmt.Errorf("unhandled command kind %d", c.kind)}
	}
}

// View renders the TUI layout and current output.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Review Lens")
	session := sessionStyle.Render(m.sessionLine())
	output := outputBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + session + "\n" + output + "\n" + input + "\n" + status
}

func (m Model) sessionLine() string {
	target := m.business
	if target == "" {
		target = "all businesses"
	}
	return fmt.Sprintf("asking about: %s   top_k: %d", target, m.topK)
}

var (
	outputBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sessionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
