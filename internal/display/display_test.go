package display

import (
	"context"
	"testing"
	"time"

	"github.com/zinwlad/game-timer/internal/enforce"
)

var _ enforce.Display = None{}

func TestParseAnswer(t *testing.T) {
	tests := map[string]enforce.PromptAnswer{
		"y":       enforce.PromptYes,
		" YES ":   enforce.PromptYes,
		"start":   enforce.PromptYes,
		"n":       enforce.PromptNo,
		"":        enforce.PromptNo,
		"maybe":   enforce.PromptNo,
		"timeout": enforce.PromptTimeout,
	}
	for in, want := range tests {
		if got := ParseAnswer(in); got != want {
			t.Errorf("ParseAnswer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNonePromptTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	answer, err := None{}.PromptAutoStart(ctx, "start?")
	if err != nil {
		t.Fatalf("PromptAutoStart failed: %v", err)
	}
	if answer != enforce.PromptTimeout {
		t.Errorf("answer = %q, want timeout", answer)
	}
}
