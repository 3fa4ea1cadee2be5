package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/codexrag/ragcli/internal/api"
	"github.com/codexrag/ragcli/internal/session"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("215"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Bold(true)
)

func (m *Model) chatWidth() int {
	w := m.width - 36
	if w < 40 {
		w = max(20, m.width-4)
	}
	return w
}

// refreshViewport re-renders the active conversation into the scrollback.
func (m *Model) refreshViewport() {
	if m.messages.Width == 0 {
		return
	}
	var b strings.Builder
	for _, msg := range m.history {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	m.messages.SetContent(b.String())
	m.messages.GotoBottom()
}

func (m *Model) renderMessage(msg api.Message) string {
	label := userStyle.Render("you")
	content := msg.Content
	if msg.Role == api.RoleAssistant {
		label = assistantStyle.Render("assistant")
		if m.renderer != nil {
			if rendered, err := m.renderer.Render(msg.Content); err == nil {
				content = strings.TrimRight(rendered, "\n")
			}
		}
	}
	line := fmt.Sprintf("%s %s\n%s", label, dimStyle.Render(formatTimestamp(msg.Timestamp)), content)
	if len(msg.Citations) > 0 {
		refs := make([]string, len(msg.Citations))
		for i := range msg.Citations {
			refs[i] = fmt.Sprintf("[%d]", i+1)
		}
		line += "\n" + dimStyle.Render("cited passages: "+strings.Join(refs, " "))
	}
	return line + "\n"
}

func (m *Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	header := headerStyle.Width(m.width).Render("ragcli — knowledge-grounded chat")

	var body string
	switch m.mode {
	case modeUpload:
		body = m.viewPrompt("Upload a document", "One document at a time; .txt, .md and .pdf are supported.")
	case modeConfigForm:
		body = m.viewConfigForm()
	case modeBuilding:
		body = panelStyle.Render(m.spin.View() + " building the knowledge base, hang tight...")
	case modeResult:
		body = m.viewResult()
	case modeDetail:
		body = m.viewDetail()
	default:
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.viewSidebar(), m.viewChat())
	}

	status := m.viewStatus()
	return lipgloss.JoinVertical(lipgloss.Left, header, body, status)
}

func (m *Model) viewSidebar() string {
	var b strings.Builder

	if m.store != nil {
		b.WriteString(activeStyle.Render(m.store.Name) + "\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("chunk %d · overlap %d · top-%d",
			m.store.Config.ChunkSize, m.store.Config.Overlap, m.store.Config.TopK)) + "\n\n")
	} else {
		b.WriteString(dimStyle.Render("no knowledge base yet\npress ctrl+u to upload") + "\n\n")
	}

	if m.mode == modeSessions {
		b.WriteString("filter: " + m.filter.View() + "\n")
	}
	visible := m.filteredSessions()
	if m.loading {
		b.WriteString(m.spin.View() + " loading sessions\n")
	} else if len(visible) == 0 {
		b.WriteString(dimStyle.Render("no conversations") + "\n")
	}
	for i, s := range visible {
		title := s.Title
		if title == "" {
			title = session.UntitledSession
		}
		prefix := "  "
		if s.ID == m.activeID {
			prefix = activeStyle.Render("» ")
		}
		line := prefix + title
		if m.mode == modeSessions && i == m.sessionCursor {
			line = lipgloss.NewStyle().Reverse(true).Render(line)
		}
		b.WriteString(line + "\n")
		b.WriteString(dimStyle.Render("  "+formatTimestamp(s.UpdatedAt)) + "\n")
	}

	if len(m.results) > 0 {
		b.WriteString("\n" + activeStyle.Render("recall results") + "\n")
		for i, r := range m.results {
			title := r.Title
			if title == "" {
				title = "untitled passage"
			}
			line := fmt.Sprintf("%d. %s (%s)", i+1, title, formatSimilarity(r.Similarity))
			if m.mode == modeRecall && i == m.resultCursor {
				line = lipgloss.NewStyle().Reverse(true).Render(line)
			}
			b.WriteString(line + "\n")
		}
	}

	return panelStyle.Width(30).Height(max(6, m.height-6)).Render(b.String())
}

func (m *Model) viewChat() string {
	var input string
	switch {
	case m.sending:
		input = m.spin.View() + " sending..."
	case m.mode == modeRecall:
		input = "search: " + m.formInput.View()
	default:
		input = m.input.View()
	}
	conversation := m.messages.View()
	if len(m.history) == 0 {
		hint := "press ctrl+n to start a conversation"
		if m.activeID != "" {
			hint = "no messages yet, ask away"
		}
		conversation = dimStyle.Render(hint)
	}
	return panelStyle.Width(m.chatWidth()).Height(max(6, m.height-6)).
		Render(conversation + "\n\n" + input)
}

func (m *Model) viewPrompt(title, hint string) string {
	return panelStyle.Render(activeStyle.Render(title) + "\n" +
		dimStyle.Render(hint) + "\n\n" + m.formInput.View() + "\n\n" +
		dimStyle.Render("enter: continue · esc: cancel"))
}

func (m *Model) viewConfigForm() string {
	var b strings.Builder
	b.WriteString(activeStyle.Render("Configure the knowledge base") + "\n\n")
	for i, label := range configFieldLabels {
		marker := "  "
		value := ""
		switch i {
		case 0:
			value = m.cfg.Name
		case 1:
			value = fmt.Sprintf("%d", m.cfg.ChunkSize)
		case 2:
			value = fmt.Sprintf("%d", m.cfg.Overlap)
		case 3:
			value = fmt.Sprintf("%d", m.cfg.TopK)
		}
		if i == m.cfgField {
			marker = activeStyle.Render("> ")
			value = m.formInput.View()
		}
		b.WriteString(fmt.Sprintf("%s%s: %s\n", marker, label, value))
	}
	b.WriteString("\n" + dimStyle.Render("enter: next field · esc: cancel"))
	return panelStyle.Render(b.String())
}

func (m *Model) viewResult() string {
	if m.errMsg != "" {
		return panelStyle.Render(errorStyle.Render("build failed") + "\n" + m.errMsg +
			"\n\n" + dimStyle.Render("press any key to continue"))
	}
	return panelStyle.Render(activeStyle.Render("knowledge base ready") + "\n" + m.notice +
		"\n\n" + dimStyle.Render("press any key to continue"))
}

func (m *Model) viewDetail() string {
	if m.detail == nil {
		return panelStyle.Render(dimStyle.Render("nothing selected"))
	}
	title := m.detail.Title
	if title == "" {
		title = "untitled passage"
	}
	head := fmt.Sprintf("passage %d · similarity %s", m.detailIndex, formatSimilarity(m.detail.Similarity))
	return panelStyle.Width(max(40, m.width-8)).Render(
		dimStyle.Render(head) + "\n" + activeStyle.Render(title) + "\n\n" + m.detail.Content +
			"\n\n" + dimStyle.Render("press any key to go back"))
}

func (m *Model) viewStatus() string {
	switch {
	case m.errMsg != "":
		return errorStyle.Render(" " + m.errMsg)
	case m.notice != "" && m.mode != modeResult:
		return noticeStyle.Render(" " + m.notice)
	default:
		return dimStyle.Render(" enter: send · tab: sessions · ctrl+n: new chat · ctrl+u: upload · ctrl+r: search · ctrl+c: quit")
	}
}
