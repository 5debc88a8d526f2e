package display

import (
	"context"

	"github.com/zinwlad/game-timer/internal/enforce"
)

func (None) ShowNotification(context.Context, string) error { return nil }
func (None) ShowCountdown(context.Context, int) error       { return nil }
func (None) ShowBlock(context.Context) error                { return nil }
func (None) HideBlock(context.Context) error                { return nil }

// PromptAutoStart waits for ctx and reports a timeout.
func (None) PromptAutoStart(ctx context.Context, _ string) (enforce.PromptAnswer, error) {
	<-ctx.Done()
	return enforce.PromptTimeout, nil
}
