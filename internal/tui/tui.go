// Package tui is the terminal presentation shell. All workflow rules live
// in the services it calls; this layer only routes key presses to service
// operations and paints the resulting state.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/codexrag/ragcli/internal/api"
	"github.com/codexrag/ragcli/internal/app"
	"github.com/codexrag/ragcli/internal/knowledge"
)

// mode selects which pane owns the keyboard.
type mode int

const (
	modeChat mode = iota
	modeSessions
	modeRecall
	modeUpload
	modeConfigForm
	modeBuilding
	modeResult
	modeDetail
)

// Model is the bubbletea model for the client.
type Model struct {
	app *app.App

	mode   mode
	width  int
	height int

	input     textinput.Model
	filter    textinput.Model
	formInput textinput.Model
	spin      spinner.Model
	messages  viewport.Model
	renderer  *glamour.TermRenderer

	// Snapshots of service state, refreshed after every completed
	// operation so View never reads the services concurrently.
	sessions    []api.Session
	activeID    string
	history     []api.Message
	results     []api.Snippet
	store       *api.VectorStore
	detail      *api.Snippet
	detailIndex int

	sessionCursor int
	resultCursor  int

	// Build form state.
	cfg      api.StoreConfig
	cfgField int

	sending  bool
	building bool
	loading  bool

	notice string
	errMsg string
}

// Messages produced by service commands.
type (
	sessionsLoadedMsg struct{ err error }
	sessionPickedMsg  struct{ err error }
	sessionMadeMsg    struct{ err error }
	sessionGoneMsg    struct{ err error }
	sendDoneMsg       struct{ err error }
	uploadDoneMsg     struct {
		task *api.DocumentTask
		err  error
	}
	buildDoneMsg struct {
		store *api.VectorStore
		err   error
	}
	recallDoneMsg struct {
		items []api.Snippet
		err   error
	}
)

// New creates the TUI over a wired application.
func New(application *app.App) *Model {
	input := textinput.New()
	input.Placeholder = "Ask a question... (tab: sessions, ctrl+u: upload, ctrl+r: search)"
	input.CharLimit = 2000
	input.Focus()

	filter := textinput.New()
	filter.Placeholder = "Filter sessions"

	form := textinput.New()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return &Model{
		app:       application,
		input:     input,
		filter:    filter,
		formInput: form,
		spin:      sp,
		renderer:  renderer,
		cfg:       knowledge.DefaultConfig(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.loadSessionsCmd())
}

// snapshot copies service state into the model for rendering.
func (m *Model) snapshot() {
	m.sessions = m.app.Sessions.Sessions()
	m.activeID = m.app.Sessions.ActiveID()
	m.history = m.app.Sessions.ActiveMessages()
	m.results = m.app.Knowledge.Results()
	m.store = m.app.Knowledge.ActiveStore()
	m.detail, m.detailIndex = m.app.Knowledge.SelectedResult()
	m.refreshViewport()
}

func (m *Model) loadSessionsCmd() tea.Cmd {
	m.loading = true
	return func() tea.Msg {
		return sessionsLoadedMsg{err: m.app.Sessions.List(context.Background())}
	}
}

func (m *Model) selectSessionCmd(id string) tea.Cmd {
	return func() tea.Msg {
		return sessionPickedMsg{err: m.app.Sessions.Select(context.Background(), id)}
	}
}

func (m *Model) startConversationCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.app.Chat.StartConversation(context.Background())
		return sessionMadeMsg{err: err}
	}
}

func (m *Model) deleteSessionCmd(id string) tea.Cmd {
	return func() tea.Msg {
		return sessionGoneMsg{err: m.app.Sessions.Delete(context.Background(), id)}
	}
}

func (m *Model) sendCmd(text string) tea.Cmd {
	m.sending = true
	return func() tea.Msg {
		return sendDoneMsg{err: m.app.Chat.Send(context.Background(), text)}
	}
}

func (m *Model) uploadCmd(path string) tea.Cmd {
	return func() tea.Msg {
		task, err := m.app.UploadFile(context.Background(), path)
		return uploadDoneMsg{task: task, err: err}
	}
}

func (m *Model) buildCmd(cfg api.StoreConfig) tea.Cmd {
	m.building = true
	return func() tea.Msg {
		store, err := m.app.Knowledge.SubmitConfig(context.Background(), cfg)
		return buildDoneMsg{store: store, err: err}
	}
}

func (m *Model) recallCmd(query string) tea.Cmd {
	return func() tea.Msg {
		items, err := m.app.Knowledge.Recall(context.Background(), query)
		return recallDoneMsg{items: items, err: err}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(20, m.width-6)
		m.messages = viewport.New(m.chatWidth(), max(4, m.height-8))
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case sessionsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		}
		m.snapshot()
		// The auto-selected session may not have its history cached yet.
		if m.activeID != "" {
			if _, ok := m.app.Sessions.MessagesFor(m.activeID); !ok {
				return m, m.selectSessionCmd(m.activeID)
			}
		}
		return m, nil

	case sessionPickedMsg, sessionMadeMsg, sessionGoneMsg:
		if err := eventErr(msg); err != nil {
			m.errMsg = err.Error()
		}
		m.snapshot()
		return m, nil

	case sendDoneMsg:
		m.sending = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		}
		m.snapshot()
		return m, nil

	case uploadDoneMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			m.mode = modeChat
			return m, nil
		}
		m.notice = fmt.Sprintf("uploaded %s (%s)", msg.task.FileName, msg.task.Status)
		m.cfg = knowledge.DefaultConfig()
		m.cfgField = 0
		m.formInput.SetValue(m.cfg.Name)
		m.formInput.Focus()
		m.mode = modeConfigForm
		return m, nil

	case buildDoneMsg:
		m.building = false
		m.mode = modeResult
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		} else {
			m.notice = fmt.Sprintf("knowledge base %q is ready", msg.store.Name)
		}
		m.snapshot()
		return m, nil

	case recallDoneMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		} else if len(msg.items) == 0 {
			m.notice = "no matching passages, try different keywords"
		}
		m.snapshot()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, m.updateFocused(msg)
}

func eventErr(msg tea.Msg) error {
	switch e := msg.(type) {
	case sessionPickedMsg:
		return e.err
	case sessionMadeMsg:
		return e.err
	case sessionGoneMsg:
		return e.err
	}
	return nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	m.errMsg = ""

	switch m.mode {
	case modeChat:
		return m.handleChatKey(msg)
	case modeSessions:
		return m.handleSessionsKey(msg)
	case modeRecall:
		return m.handleRecallKey(msg)
	case modeUpload:
		return m.handleUploadKey(msg)
	case modeConfigForm:
		return m.handleConfigKey(msg)
	case modeBuilding:
		// The poll loop cannot be cancelled from here; just keep spinning.
		return m, nil
	case modeResult:
		m.app.Knowledge.Dismiss()
		m.mode = modeChat
		m.notice = ""
		return m, nil
	case modeDetail:
		m.app.Knowledge.SelectResult(0)
		m.mode = modeChat
		m.snapshot()
		return m, nil
	}
	return m, nil
}

func (m *Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.sending {
			return m, nil
		}
		m.input.Reset()
		return m, m.sendCmd(text)
	case "tab":
		m.mode = modeSessions
		m.filter.Reset()
		m.filter.Focus()
		m.input.Blur()
		m.sessionCursor = 0
		return m, nil
	case "ctrl+n":
		return m, m.startConversationCmd()
	case "ctrl+u":
		if m.building {
			return m, nil
		}
		m.mode = modeUpload
		m.formInput.Reset()
		m.formInput.Placeholder = "Path to a .txt, .md or .pdf file"
		m.formInput.Focus()
		m.input.Blur()
		return m, nil
	case "ctrl+r":
		m.mode = modeRecall
		m.formInput.Reset()
		m.formInput.Placeholder = "Search the knowledge base"
		m.formInput.Focus()
		m.input.Blur()
		return m, nil
	}
	return m, m.updateFocused(msg)
}

func (m *Model) handleSessionsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	visible := m.filteredSessions()
	switch msg.String() {
	case "esc", "tab":
		m.mode = modeChat
		m.filter.Blur()
		m.input.Focus()
		return m, nil
	case "up":
		if m.sessionCursor > 0 {
			m.sessionCursor--
		}
		return m, nil
	case "down":
		if m.sessionCursor < len(visible)-1 {
			m.sessionCursor++
		}
		return m, nil
	case "enter":
		if m.sessionCursor < len(visible) {
			id := visible[m.sessionCursor].ID
			m.mode = modeChat
			m.filter.Blur()
			m.input.Focus()
			return m, m.selectSessionCmd(id)
		}
		return m, nil
	case "ctrl+d":
		if m.sessionCursor < len(visible) {
			return m, m.deleteSessionCmd(visible[m.sessionCursor].ID)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	if m.sessionCursor >= len(m.filteredSessions()) {
		m.sessionCursor = 0
	}
	return m, cmd
}

func (m *Model) handleRecallKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeChat
		m.formInput.Blur()
		m.input.Focus()
		return m, nil
	case "enter":
		query := m.formInput.Value()
		m.mode = modeChat
		m.formInput.Blur()
		m.input.Focus()
		return m, m.recallCmd(query)
	case "up":
		if m.resultCursor > 0 {
			m.resultCursor--
		}
		return m, nil
	case "down":
		if m.resultCursor < len(m.results)-1 {
			m.resultCursor++
		}
		return m, nil
	case "ctrl+o":
		if m.resultCursor < len(m.results) {
			m.app.Knowledge.SelectResult(m.resultCursor + 1)
			m.snapshot()
			m.mode = modeDetail
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.formInput, cmd = m.formInput.Update(msg)
	return m, cmd
}

func (m *Model) handleUploadKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeChat
		m.formInput.Blur()
		m.input.Focus()
		return m, nil
	case "enter":
		path := strings.TrimSpace(m.formInput.Value())
		if path == "" {
			m.errMsg = "choose a file to upload first"
			return m, nil
		}
		return m, m.uploadCmd(path)
	}
	var cmd tea.Cmd
	m.formInput, cmd = m.formInput.Update(msg)
	return m, cmd
}

// The config form edits one field at a time: name, chunk size, overlap,
// topK. Enter advances; the last enter submits the build.
func (m *Model) handleConfigKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.app.Knowledge.DiscardUpload()
		m.mode = modeChat
		m.formInput.Blur()
		m.input.Focus()
		return m, nil
	case "enter":
		if err := m.applyConfigField(m.formInput.Value()); err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		m.cfgField++
		if m.cfgField < 4 {
			m.formInput.SetValue(m.configFieldValue())
			return m, nil
		}
		if err := knowledge.ValidateConfig(m.cfg); err != nil {
			m.errMsg = err.Error()
			m.cfgField = 0
			m.formInput.SetValue(m.cfg.Name)
			return m, nil
		}
		m.mode = modeBuilding
		m.formInput.Blur()
		return m, m.buildCmd(m.cfg)
	}
	var cmd tea.Cmd
	m.formInput, cmd = m.formInput.Update(msg)
	return m, cmd
}

func (m *Model) applyConfigField(raw string) error {
	raw = strings.TrimSpace(raw)
	switch m.cfgField {
	case 0:
		m.cfg.Name = raw
		return nil
	case 1, 2, 3:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%q is not a number", raw)
		}
		switch m.cfgField {
		case 1:
			m.cfg.ChunkSize = n
		case 2:
			m.cfg.Overlap = n
		case 3:
			m.cfg.TopK = n
		}
		return nil
	}
	return nil
}

func (m *Model) configFieldValue() string {
	switch m.cfgField {
	case 0:
		return m.cfg.Name
	case 1:
		return strconv.Itoa(m.cfg.ChunkSize)
	case 2:
		return strconv.Itoa(m.cfg.Overlap)
	case 3:
		return strconv.Itoa(m.cfg.TopK)
	}
	return ""
}

var configFieldLabels = []string{
	"Knowledge base name",
	"Chunk size (tokens)",
	"Chunk overlap (tokens)",
	"Recall top-K",
}

func (m *Model) filteredSessions() []api.Session {
	query := strings.TrimSpace(m.filter.Value())
	if query == "" {
		return m.sessions
	}
	var out []api.Session
	for _, s := range m.sessions {
		if fuzzy.MatchFold(query, s.Title) {
			out = append(out, s)
		}
	}
	return out
}

func (m *Model) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch m.mode {
	case modeChat:
		m.input, cmd = m.input.Update(msg)
	case modeSessions:
		m.filter, cmd = m.filter.Update(msg)
	default:
		m.formInput, cmd = m.formInput.Update(msg)
	}
	return cmd
}

// Run starts the TUI on the alternate screen and blocks until exit.
func Run(application *app.App) error {
	program := tea.NewProgram(New(application), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
