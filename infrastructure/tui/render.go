package tui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ahrav/go-arbiter/internal/application"
	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/review"
)

func (m ReviewModel) renderHeader() string {
	pos := fmt.Sprintf("%d/%d", m.cursor+1, m.total())
	if m.viewMode == ViewStats {
		return titleStyle.Render("Statistics") + " " + statsStyle.Render(m.session.Key())
	}
	if item, ok := m.currentItem(); ok {
		return titleStyle.Render("Suggestion "+pos) + " " + filePathStyle.Render(item.Item.RelevantFile)
	}
	row, _ := m.currentRow()
	header := titleStyle.Render("Row "+pos) + " " + filePathStyle.Render(row.ID)
	if res, ok := m.session.Result(row.ID); ok {
		header += " " + decidedBadge.Render(fmt.Sprintf("%s %d/5", res.WinnerLabel, res.Confidence))
	} else {
		header += " " + pendingBadge.Render("pending")
	}
	return header
}

func (m ReviewModel) renderFooter() string {
	var b strings.Builder
	switch {
	case m.purpose != inputNone:
		b.WriteString(m.input.View())
	case m.err != nil:
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
	case m.status != "":
		b.WriteString(statsStyle.Render(m.status))
	}
	b.WriteString("\n")

	keys := [][2]string{{"←/→", "row"}, {"1-9", "pick"}, {"tab", "focus"}, {"t", "tie"}, {"+/-", "confidence"}, {"r", "reasoning"}, {"R", "rename"}}
	if m.isFeedbackMode() {
		keys = [][2]string{{"←/→", "item"}, {"y", "approve"}, {"x", "reject"}, {"c", "comment"}}
	}
	keys = append(keys, [2]string{"s", "stats"}, [2]string{"?", "help"}, [2]string{"q", "quit"})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = helpKeyStyle.Render(k[0]) + " " + helpDescStyle.Render(k[1])
	}
	b.WriteString(strings.Join(parts, "  "))
	return b.String()
}

func (m ReviewModel) renderHelp() string {
	lines := [][2]string{
		{"← h p / → l n", "previous / next row"},
		{"j k ↑ ↓ g G", "scroll"},
		{"1-9", "pick the n-th option as winner"},
		{"tab / shift+tab", "move focus between options"},
		{"enter", "pick the focused option"},
		{"t / u", "record a tie / mark undecidable"},
		{"+ / -", "raise / lower confidence"},
		{"r", "edit reasoning"},
		{"R", "rename the focused slot"},
		{"y / x / c", "approve / reject / comment (suggestion review)"},
		{"D", "toggle code diffs"},
		{"s", "toggle statistics"},
		{"q", "quit"},
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(helpKeyStyle.Width(18).Render(l[0]))
		b.WriteString(helpDescStyle.Render(l[1]))
		b.WriteString("\n")
	}
	return b.String()
}

func (m ReviewModel) renderRow() string {
	row, ok := m.currentRow()
	if !ok {
		return ""
	}
	res, decided := m.session.Result(row.ID)

	var b strings.Builder
	b.WriteString(sectionStyle.Render("Input"))
	b.WriteString("\n")
	b.WriteString(contextStyle.Render(domain.Truncate(renderInputs(row.Inputs), 2000)))
	b.WriteString("\n")
	if score, ok := review.Agreement(row); ok {
		b.WriteString(statsStyle.Render(fmt.Sprintf("Summary agreement: %.0f%%", score*100)))
		b.WriteString("\n")
	}

	for i, opt := range row.Options() {
		b.WriteString("\n")
		title := fmt.Sprintf("[%d] %s", i+1, m.session.Label(row, opt.Slot))
		style := optionStyle
		if i == m.focus {
			style = focusedOptionStyle
		}
		b.WriteString(style.Render(title))
		b.WriteString(" " + statsStyle.Render(opt.Slot))
		if decided && res.WinnerID == opt.Slot {
			b.WriteString(" " + decidedBadge.Render("winner"))
		}
		b.WriteString("\n")
		b.WriteString(m.renderOutput(opt.Output))
	}

	if decided && res.Reasoning != "" {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Reasoning"))
		b.WriteString("\n")
		b.WriteString(rationaleStyle.Render(res.Reasoning))
		b.WriteString("\n")
	}
	return b.String()
}

func (m ReviewModel) renderOutput(out domain.ComparisonOutput) string {
	if out.IsFallback() {
		msg := "output could not be parsed"
		if out.Fallback != nil {
			msg += ": " + out.Fallback.ErrorMessage
		}
		return errorStyle.Render(msg) + "\n" + contextStyle.Render(domain.Truncate(out.Output, 500)) + "\n"
	}

	var b strings.Builder
	if s := strings.TrimSpace(out.Parsed.OverallSummary); s != "" {
		b.WriteString(m.renderMarkdown(s, func(s string) string { return rationaleStyle.Render(s) }))
		b.WriteString("\n")
	}
	if len(out.Parsed.CodeSuggestions) == 0 {
		b.WriteString(statsStyle.Render("(no suggestions)"))
		b.WriteString("\n")
	}
	for i, item := range out.Parsed.CodeSuggestions {
		b.WriteString(m.renderSuggestion(i+1, item))
	}
	return b.String()
}

func (m ReviewModel) renderSuggestion(n int, item domain.SuggestionItem) string {
	var b strings.Builder
	sev := review.InferSeverityString(item.Label)
	loc := item.RelevantFile
	if item.RelevantLinesStart != nil {
		loc += ":" + strconv.Itoa(int(*item.RelevantLinesStart))
		if item.RelevantLinesEnd != nil && *item.RelevantLinesEnd != *item.RelevantLinesStart {
			loc += "-" + strconv.Itoa(int(*item.RelevantLinesEnd))
		}
	}
	fmt.Fprintf(&b, "  %d. %s %s\n", n, severityStyle(sev).Render(string(sev)), filePathStyle.Render(loc))
	if s := strings.TrimSpace(item.OneSentenceSummary); s != "" {
		b.WriteString("     " + s + "\n")
	}
	if s := strings.TrimSpace(item.SuggestionContent); s != "" && s != strings.TrimSpace(item.OneSentenceSummary) {
		b.WriteString(m.renderMarkdown(s, func(s string) string { return contextStyle.Render(indent(s, 5)) }) + "\n")
	}
	if item.HasCodeChange() {
		b.WriteString(m.renderCode(item))
	}
	return b.String()
}

// renderMarkdown renders s through glamour, or through plain when markdown
// is off or rendering fails.
func (m ReviewModel) renderMarkdown(s string, plain func(string) string) string {
	if m.markdown != nil {
		if out, err := m.markdown.Render(s); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return plain(s)
}

func (m ReviewModel) renderCode(item domain.SuggestionItem) string {
	if !m.config.ShowDiffs || item.ExistingCode == "" {
		return addedStyle.Render(indent(item.ImprovedCode, 7)) + "\n"
	}
	var b strings.Builder
	for _, line := range review.UnifiedDiff(item.ExistingCode, item.ImprovedCode) {
		var style lipgloss.Style
		switch {
		case strings.HasPrefix(line, review.PrefixAdded):
			style = addedStyle
		case strings.HasPrefix(line, review.PrefixRemoved):
			style = removedStyle
		default:
			style = contextStyle
		}
		b.WriteString("       " + style.Render(line) + "\n")
	}
	return b.String()
}

func (m ReviewModel) renderItem() string {
	item, ok := m.currentItem()
	if !ok {
		return ""
	}
	var b strings.Builder
	if fb, ok := m.session.Snapshot().Feedbacks.Get(item.ID); ok {
		if fb.Approved {
			b.WriteString(decidedBadge.Render("approved"))
		} else {
			b.WriteString(rejectedBadge.Render("rejected"))
		}
		if fb.Comment != "" {
			b.WriteString(" " + rationaleStyle.Render(fb.Comment))
		}
		b.WriteString("\n")
	} else {
		b.WriteString(pendingBadge.Render("pending") + "\n")
	}
	b.WriteString(m.renderSuggestion(1, item.Item))
	return b.String()
}

func (m ReviewModel) renderStats() string {
	snap := m.session.Snapshot()
	if m.isFeedbackMode() {
		exp := application.ExportFeedbacks(m.session)
		return fmt.Sprintf("Reviewed %d of %d suggestions\nApproved %d, rejected %d\n",
			exp.ReviewedCount, exp.TotalSuggestions, exp.ApprovedCount, exp.RejectedCount)
	}

	st := application.ComputeStats(m.rows, snap.Results, snap.Labels)
	var b strings.Builder
	fmt.Fprintf(&b, "Decided %d of %d rows (%d ties, %d undefined)\n",
		st.CompletedComparisons, st.TotalComparisons, st.Ties, st.Undefined)
	if st.CompletedComparisons > 0 {
		fmt.Fprintf(&b, "Confidence %.2f ± %.2f\n", st.AverageConfidence, st.ConfidenceStdDev)
	}
	b.WriteString("\n")
	for _, p := range st.Ranking {
		bar := strings.Repeat("█", int(p.WinRate*20+0.5))
		fmt.Fprintf(&b, "%-20s %s %5.1f%% (%d/%d)\n",
			domain.Truncate(p.Label, 20), addedStyle.Render(fmt.Sprintf("%-20s", bar)), p.WinRate*100, p.Wins, p.Total)
	}
	return b.String()
}

func renderInputs(inputs any) string {
	switch v := inputs.(type) {
	case nil:
		return "(none)"
	case string:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, v[k])
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return fmt.Sprint(inputs)
}

func indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
}
