package notify

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
)

// TerminalGateway prints events and asks for approval with an interactive
// confirm prompt.
type TerminalGateway struct {
	out io.Writer
}

// NewTerminalGateway creates a TerminalGateway writing to out.
func NewTerminalGateway(out io.Writer) *TerminalGateway {
	return &TerminalGateway{out: out}
}

// Notify prints a one-line summary.
func (g *TerminalGateway) Notify(_ context.Context, ev Event) error {
	_, err := fmt.Fprintf(g.out, "[%s] %s\n", ev.Type, ev.Summary)
	return err
}

// RequestApproval shows a yes/no prompt until answered or ctx ends.
func (g *TerminalGateway) RequestApproval(ctx context.Context, prompt string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Approve").
			Negative("Decline").
			Value(&ok),
	))
	err := form.RunWithContext(ctx)
	switch {
	case ctx.Err() != nil:
		return false, ErrApprovalTimeout
	case errors.Is(err, huh.ErrUserAborted):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("approval prompt: %w", err)
	}
	return ok, nil
}
