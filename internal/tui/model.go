package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/sink"
)

// DefaultMaxLines bounds the scrollback.
const DefaultMaxLines = 1000

type messageMsg message.Message
type sinkClosedMsg struct{}
type tickMsg time.Time

// Options configure a Model.
type Options struct {
	Channel   string
	WorkDir   string
	Formatter sink.Formatter
	MaxLines  int
	Now       func() time.Time
}

// Model is the BubbleTea model for `tracetap watch`.
type Model struct {
	sink      *Sink
	formatter sink.Formatter
	theme     Theme
	now       func() time.Time

	width  int
	height int

	header   HeaderState
	spinner  Spinner
	lines    []string
	maxLines int
	viewport viewport.Model
	closed   bool
}

// New creates a model fed by s.
func New(s *Sink, opts Options) Model {
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxLines
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return Model{
		sink:      s,
		formatter: opts.Formatter,
		theme:     NewDefaultTheme(),
		now:       opts.Now,
		maxLines:  opts.MaxLines,
		header: HeaderState{
			Channel:   opts.Channel,
			WorkDir:   opts.WorkDir,
			StartedAt: opts.Now(),
		},
		viewport: viewport.New(0, 0),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		receiveNextMessage(m.sink),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p", " ":
			m.header.Paused = !m.header.Paused
			if !m.header.Paused {
				m.viewport.GotoBottom()
			}
			return m, nil
		case "c":
			m.lines = nil
			m.viewport.SetContent("")
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 6
		// Header box is 5 rows, log border 2, help 1.
		m.viewport.Height = max(msg.Height-10, 1)
		m.refresh()
		return m, nil

	case tickMsg:
		m.spinner.Decay(m.now())
		m.header.Dropped = m.sink.Dropped()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case messageMsg:
		m.append(message.Message(msg))
		m.header.Dropped = m.sink.Dropped()
		return m, receiveNextMessage(m.sink)

	case sinkClosedMsg:
		m.closed = true
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) append(msg message.Message) {
	m.header.Received++
	m.spinner.OnMessage(m.now())

	line, err := m.formatter.Format(msg)
	if err != nil {
		line = m.theme.Dim.Render("[unrenderable " + msg.Module + "/" + msg.Category + "]")
	} else {
		line = m.theme.ForCategory(msg.Category).Render(strings.TrimSuffix(line, "\n"))
	}

	m.lines = append(m.lines, line)
	if over := len(m.lines) - m.maxLines; over > 0 {
		m.lines = m.lines[over:]
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if !m.header.Paused {
		m.viewport.GotoBottom()
	}
}

// Lines returns the rendered scrollback, oldest first.
func (m Model) Lines() []string { return m.lines }

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := renderHeader(m.header, m.spinner, m.theme, m.width, m.now())

	title := "Messages"
	if m.closed {
		title += " (client closed)"
	}
	body := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render(title),
			m.viewport.View(),
		),
	)

	help := m.theme.Dim.Render(" [q] Quit • [p] Pause • [c] Clear • [↑/↓] Scroll")

	return lipgloss.JoinVertical(lipgloss.Left, header, body, help)
}

func receiveNextMessage(s *Sink) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-s.ch:
			return messageMsg(msg)
		case <-s.done:
			return sinkClosedMsg{}
		}
	}
}
