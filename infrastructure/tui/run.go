package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ahrav/go-arbiter/internal/application"
)

// Run starts the full-screen review of sess and blocks until the reviewer
// quits or ctx is cancelled.
func Run(ctx context.Context, sess *application.Session, config Config, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewReviewModel(sess, config), opts...)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("review UI: %w", err)
	}
	return nil
}
