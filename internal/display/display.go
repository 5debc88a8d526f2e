// Package display holds the pieces shared by the display surfaces.
package display

import (
	"strings"

	"github.com/zinwlad/game-timer/internal/enforce"
)

// Controller receives user input from a display surface.
type Controller interface {
	UnlockRequested() error
	MonitoredAppClosed()
}

// ParseAnswer maps free-form user input to a prompt answer. Anything that
// is not a clear yes counts as no.
func ParseAnswer(s string) enforce.PromptAnswer {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "ok", "start":
		return enforce.PromptYes
	case "timeout":
		return enforce.PromptTimeout
	default:
		return enforce.PromptNo
	}
}

// None is a display that shows nothing and never answers prompts.
type None struct{}
