package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
)

func main() {
	host := pflag.String("host", "localhost", "Server host to prefill")
	port := pflag.String("port", "8999", "Server port to prefill")
	name := pflag.String("name", "", "Name to prefill")
	logFile := pflag.String("log", "", "Write debug logs to this file")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *logFile != "" {
		f, err := tea.LogToFile(*logFile, "client")
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view := &programView{}
	ctrl := NewController(view, logger)
	p := tea.NewProgram(initialModel(ctx, ctrl, loginDefaults{
		Host: *host,
		Port: *port,
		Name: *name,
	}), tea.WithAltScreen())
	view.program = p

	_, err := p.Run()
	ctrl.Disconnect()
	if err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
