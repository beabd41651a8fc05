// Package tui implements the interactive terminal review with bubbletea.
//
// A CSV batch is reviewed row by row: the reviewer reads every option of
// the row, picks a winner (or tie), adjusts confidence and writes a short
// reasoning. A JSON-mode document is reviewed suggestion by suggestion with
// approve and reject. Every decision goes straight through the Session, so
// closing the terminal never loses work.
//
// # Thread Safety
//
// The model is used from the bubbletea event loop only. Session calls run
// inside tea.Cmd functions and report back with messages.
package tui

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/ahrav/go-arbiter/internal/application"
	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ingest"
)

// ViewMode selects what the main pane shows.
type ViewMode int

const (
	// ViewReview shows the current row or suggestion.
	ViewReview ViewMode = iota
	// ViewStats shows win rates for the batch.
	ViewStats
)

// inputPurpose says what a finished text input is applied to.
type inputPurpose int

const (
	inputNone inputPurpose = iota
	inputReasoning
	inputRename
	inputComment
)

// Messages produced by session commands.
type (
	resultMsg struct {
		result domain.ComparisonResult
		err    error
	}
	labelMsg struct {
		slot string
		err  error
	}
	feedbackMsg struct {
		feedback domain.SuggestionFeedback
		err      error
	}
)

// Config configures the review model.
type Config struct {
	// ShowDiffs renders existing and improved code as a line diff instead
	// of showing the improved code alone.
	ShowDiffs bool
	// OpTimeout bounds one session write.
	OpTimeout time.Duration
	// Markdown renders summaries and suggestion text as markdown.
	Markdown bool
}

// DefaultConfig returns the interactive defaults.
func DefaultConfig() Config {
	return Config{ShowDiffs: true, OpTimeout: 5 * time.Second, Markdown: true}
}

// ReviewModel is the bubbletea model for reviewing one document.
type ReviewModel struct {
	config   Config
	session  *application.Session
	markdown *glamour.TermRenderer

	rows  []domain.ComparisonRow
	items []ingest.ReviewItem

	cursor int
	// focus indexes the options of the current row.
	focus    int
	viewMode ViewMode

	viewport viewport.Model
	input    textinput.Model
	purpose  inputPurpose

	width  int
	height int

	ready    bool
	showHelp bool
	quitting bool
	status   string
	err      error
}

// NewReviewModel creates a model over sess. The document mode decides
// whether rows or suggestions are reviewed.
func NewReviewModel(sess *application.Session, config Config) ReviewModel {
	if config.OpTimeout <= 0 {
		config.OpTimeout = DefaultConfig().OpTimeout
	}
	in := textinput.New()
	in.CharLimit = 4000

	m := ReviewModel{config: config, session: sess, input: in}
	if config.Markdown {
		m.markdown, _ = glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(markdownWrap))
	}
	doc := sess.Document()
	if doc.Batch != nil {
		m.rows = doc.Batch.Rows
	}
	m.items = doc.Items
	return m
}

// Init implements tea.Model.
func (m ReviewModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight, footerHeight := 2, 3
		vpHeight := max(m.height-headerHeight-footerHeight, 1)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.input.Width = max(m.width-20, 10)
		m.refresh()
		return m, nil

	case resultMsg:
		if m.fail(msg.err) {
			return m, nil
		}
		m.status = "Saved " + msg.result.RowID + ": " + msg.result.WinnerLabel +
			" (confidence " + strconv.Itoa(msg.result.Confidence) + ")"
		m.refresh()
		return m, nil

	case labelMsg:
		if m.fail(msg.err) {
			return m, nil
		}
		m.status = "Renamed " + msg.slot
		m.refresh()
		return m, nil

	case feedbackMsg:
		if m.fail(msg.err) {
			return m, nil
		}
		verb := "Rejected "
		if msg.feedback.Approved {
			verb = "Approved "
		}
		m.status = verb + msg.feedback.ID
		m.next()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if m.purpose != inputNone {
			return m.handleInput(msg)
		}
		if m.showHelp {
			switch msg.String() {
			case "q", "?", "esc":
				m.showHelp = false
			}
			return m, nil
		}
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *ReviewModel) fail(err error) bool {
	if err == nil {
		m.err = nil
		return false
	}
	m.err = err
	m.status = ""
	return true
}

func (m ReviewModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "?":
		m.showHelp = true
		return m, nil
	case "s":
		if m.viewMode == ViewStats {
			m.viewMode = ViewReview
		} else {
			m.viewMode = ViewStats
		}
		m.refresh()
		return m, nil
	case "D":
		m.config.ShowDiffs = !m.config.ShowDiffs
		m.refresh()
		return m, nil
	case "right", "l", "n":
		m.next()
		m.refresh()
		return m, nil
	case "left", "h", "p":
		m.prev()
		m.refresh()
		return m, nil
	case "j", "down":
		m.viewport.LineDown(1)
		return m, nil
	case "k", "up":
		m.viewport.LineUp(1)
		return m, nil
	case "g", "home":
		m.viewport.GotoTop()
		return m, nil
	case "G", "end":
		m.viewport.GotoBottom()
		return m, nil
	}

	if m.isFeedbackMode() {
		return m.handleFeedbackKey(key)
	}
	return m.handleRowKey(key)
}

func (m ReviewModel) handleRowKey(key string) (tea.Model, tea.Cmd) {
	row, ok := m.currentRow()
	if !ok {
		return m, nil
	}
	opts := row.Options()

	switch key {
	case "tab":
		m.focus = (m.focus + 1) % len(opts)
		m.refresh()
	case "shift+tab":
		m.focus = (m.focus + len(opts) - 1) % len(opts)
		m.refresh()
	case "enter":
		return m, m.pick(row.ID, opts[m.focus].Slot)
	case "t":
		return m, m.pick(row.ID, domain.WinnerTie)
	case "u":
		return m, m.pick(row.ID, domain.WinnerUndefined)
	case "+", "=":
		return m, m.bumpConfidence(row.ID, 1)
	case "-":
		return m, m.bumpConfidence(row.ID, -1)
	case "r":
		m.startInput(inputReasoning, "Reasoning: ", m.currentReasoning(row.ID))
	case "R":
		slot := opts[m.focus].Slot
		m.startInput(inputRename, "Rename "+slot+": ", m.session.Label(row, slot))
	default:
		// 1-9 pick the n-th option.
		if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(opts) {
			m.focus = n - 1
			return m, m.pick(row.ID, opts[n-1].Slot)
		}
	}
	return m, nil
}

func (m ReviewModel) handleFeedbackKey(key string) (tea.Model, tea.Cmd) {
	item, ok := m.currentItem()
	if !ok {
		return m, nil
	}
	switch key {
	case "y", "a":
		return m, m.feedback(item.ID, true, m.currentComment(item.ID))
	case "x":
		return m, m.feedback(item.ID, false, m.currentComment(item.ID))
	case "c":
		m.startInput(inputComment, "Comment: ", m.currentComment(item.ID))
	}
	return m, nil
}

func (m *ReviewModel) startInput(p inputPurpose, prompt, value string) {
	m.purpose = p
	m.input.Prompt = prompt
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m ReviewModel) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.purpose = inputNone
		m.input.Blur()
		return m, nil
	case "enter":
		purpose, value := m.purpose, m.input.Value()
		m.purpose = inputNone
		m.input.Blur()
		return m, m.submitInput(purpose, value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ReviewModel) submitInput(p inputPurpose, value string) tea.Cmd {
	switch p {
	case inputReasoning:
		if row, ok := m.currentRow(); ok {
			return m.withSession(func(ctx context.Context) tea.Msg {
				res, err := m.session.SetReasoning(ctx, row.ID, value)
				return resultMsg{result: res, err: err}
			})
		}
	case inputRename:
		if row, ok := m.currentRow(); ok {
			slot := row.Options()[m.focus].Slot
			return m.withSession(func(ctx context.Context) tea.Msg {
				return labelMsg{slot: slot, err: m.session.RenameSlot(ctx, slot, value)}
			})
		}
	case inputComment:
		if item, ok := m.currentItem(); ok {
			approved := true
			if fb, ok := m.session.Snapshot().Feedbacks.Get(item.ID); ok {
				approved = fb.Approved
			}
			return m.feedback(item.ID, approved, value)
		}
	}
	return nil
}

// withSession runs op in a command with the configured timeout.
func (m ReviewModel) withSession(op func(ctx context.Context) tea.Msg) tea.Cmd {
	timeout := m.config.OpTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return op(ctx)
	}
}

func (m ReviewModel) pick(rowID, winner string) tea.Cmd {
	return m.withSession(func(ctx context.Context) tea.Msg {
		res, err := m.session.PickWinner(ctx, rowID, winner)
		return resultMsg{result: res, err: err}
	})
}

func (m ReviewModel) bumpConfidence(rowID string, delta int) tea.Cmd {
	res, ok := m.session.Result(rowID)
	if !ok {
		return func() tea.Msg { return resultMsg{err: domain.ErrNotDecided} }
	}
	level := min(max(res.Confidence+delta, domain.MinConfidence), domain.MaxConfidence)
	return m.withSession(func(ctx context.Context) tea.Msg {
		res, err := m.session.SetConfidence(ctx, rowID, level)
		return resultMsg{result: res, err: err}
	})
}

func (m ReviewModel) feedback(id string, approved bool, comment string) tea.Cmd {
	return m.withSession(func(ctx context.Context) tea.Msg {
		fb, err := m.session.SetFeedback(ctx, id, approved, comment)
		return feedbackMsg{feedback: fb, err: err}
	})
}

func (m *ReviewModel) next() {
	if m.cursor < m.total()-1 {
		m.cursor++
		m.focus = 0
		m.viewport.GotoTop()
	}
}

func (m *ReviewModel) prev() {
	if m.cursor > 0 {
		m.cursor--
		m.focus = 0
		m.viewport.GotoTop()
	}
}

func (m ReviewModel) isFeedbackMode() bool {
	return m.session.Document().Mode == application.ModeJSON
}

func (m ReviewModel) total() int {
	if m.isFeedbackMode() {
		return len(m.items)
	}
	return len(m.rows)
}

func (m ReviewModel) currentRow() (domain.ComparisonRow, bool) {
	if m.isFeedbackMode() || m.cursor >= len(m.rows) {
		return domain.ComparisonRow{}, false
	}
	return m.rows[m.cursor], true
}

func (m ReviewModel) currentItem() (ingest.ReviewItem, bool) {
	if !m.isFeedbackMode() || m.cursor >= len(m.items) {
		return ingest.ReviewItem{}, false
	}
	return m.items[m.cursor], true
}

func (m ReviewModel) currentReasoning(rowID string) string {
	res, _ := m.session.Result(rowID)
	return res.Reasoning
}

func (m ReviewModel) currentComment(id string) string {
	fb, _ := m.session.Snapshot().Feedbacks.Get(id)
	return fb.Comment
}

// refresh re-renders the viewport content.
func (m *ReviewModel) refresh() {
	if !m.ready {
		return
	}
	var content string
	switch {
	case m.viewMode == ViewStats:
		content = m.renderStats()
	case m.isFeedbackMode():
		content = m.renderItem()
	default:
		content = m.renderRow()
	}
	m.viewport.SetContent(content)
}

// View implements tea.Model.
func (m ReviewModel) View() string {
	if m.quitting {
		return "Review saved.\n"
	}
	if !m.ready {
		return "Loading...\n"
	}
	if m.total() == 0 {
		return "Nothing to review.\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.renderHelp())
	} else {
		b.WriteString(m.viewport.View())
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// Cursor returns the index of the row or suggestion on screen.
func (m ReviewModel) Cursor() int { return m.cursor }

// Err returns the last session error shown in the footer.
func (m ReviewModel) Err() error { return m.err }
