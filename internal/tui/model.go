package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"doran/internal/domain"
	"doran/internal/engine"
)

// ChatPort is the TUI-facing subset of the engine.
type ChatPort interface {
	Respond(ctx context.Context, req engine.Request) engine.Reply
}

type turn struct {
	query string
	reply engine.Reply
}

// Model is the Bubble Tea model for the chat console.
type Model struct {
	engine    ChatPort
	sessionID string
	role      domain.Role
	input     textinput.Model
	viewport  viewport.Model
	turns     []turn
	status    string
	ready     bool
	debug     bool
}

// New creates a chat console bound to one session.
func New(port ChatPort, sessionID string, role domain.Role) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask DORAN something and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if role == "" {
		role = domain.RoleUser
	}
	return Model{
		engine:    port,
		sessionID: sessionID,
		role:      role,
		input:     ti,
		viewport:  vp,
		status:    "Ctrl+G toggles guest mode, Ctrl+T shows match details.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := m.input.Value()
			reply := m.engine.Respond(context.Background(), engine.Request{
				Message:   q,
				Role:      m.role,
				SessionID: m.sessionID,
			})
			m.input.Reset()
			if strings.TrimSpace(q) == "" {
				m.status = reply.Response
				return m, nil
			}
			m.turns = append(m.turns, turn{query: strings.TrimSpace(q), reply: reply})
			m.status = fmt.Sprintf("%s  intent=%s", reply.Timestamp.Format(engine.TimestampLayout), reply.Intent)
			m.refresh()
			m.viewport.GotoBottom()
			return m, nil
		case "ctrl+g":
			if m.role == domain.RoleGuest {
				m.role = domain.RoleUser
			} else {
				m.role = domain.RoleGuest
			}
			m.status = "Chatting as " + string(m.role)
			return m, nil
		case "ctrl+t":
			m.debug = !m.debug
			m.refresh()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and the transcript.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("DORAN") +
		lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("  role="+string(m.role))
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + transcriptBoxStyle.Render(m.viewport.View()) + "\n" + input + "\n" + status
}

// Transcript returns the rendered conversation without styling frames.
func (m Model) Transcript() string { return m.renderTranscript() }

func (m *Model) refresh() { m.viewport.SetContent(m.renderTranscript()) }

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(userStyle.Render("you: "))
		b.WriteString(t.query)
		b.WriteString("\n")
		b.WriteString(botStyle.Render("doran: "))
		b.WriteString(highlightTerms(plainText(t.reply.Response), t.query))
		if m.debug {
			fmt.Fprintf(&b, "\n%s", debugStyle.Render(fmt.Sprintf("[%s score=%.3f]", t.reply.Match, t.reply.Score)))
		}
	}
	return b.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	debugStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe      = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	brRe               = regexp.MustCompile(`(?i)<br\s*/?>`)
	mediaRe            = regexp.MustCompile(`(?i)<(img|video)[^>]*\ssrc='([^']*)'[^>]*>(?:</video>)?`)
	tagRe              = regexp.MustCompile(`<[^>]+>`)
)

// plainText turns a rendered response into terminal text: line breaks become
// newlines and media tags become [image: src] / [video: src] markers.
func plainText(html string) string {
	s := brRe.ReplaceAllString(html, "\n")
	s = mediaRe.ReplaceAllStringFunc(s, func(tag string) string {
		sub := mediaRe.FindStringSubmatch(tag)
		kind := "image"
		if strings.EqualFold(sub[1], "video") {
			kind = "video"
		}
		return fmt.Sprintf(" [%s: %s]", kind, sub[2])
	})
	s = tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// highlightTerms emphasises the words of text that also occur in query.
func highlightTerms(text, query string) string {
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	return unicodeWordRe.ReplaceAllStringFunc(text, func(w string) string {
		if _, ok := qTokens[strings.ToLower(w)]; ok && len([]rune(w)) > 2 {
			return highlightStyle.Render(w)
		}
		return w
	})
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}
