package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/user/amlburn/internal/cli"
)

func main() {
	// Human-readable logs on a terminal, JSON when piped into something.
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	cli.Execute()
}
