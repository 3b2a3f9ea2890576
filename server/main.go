package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	configFile := pflag.StringP("config", "c", "server.yaml", "Path to configuration file")
	addr := pflag.String("addr", "", "Listen address host:port (overrides the config file)")
	noConsole := pflag.Bool("no-console", false, "Do not read operator commands from stdin")
	pflag.Parse()

	if err := run(*configFile, *addr, !*noConsole); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(configFile, addr string, console bool) error {
	config := NewConfig(configFile)
	if err := config.Load(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addr != "" {
		if err := config.SetAddr(addr); err != nil {
			return err
		}
	}

	logger, logFile, err := setupLogging(config.LogDir, config.LogLevel, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		logFile.Close()
		if target, err := archiveLog(config.LogDir, time.Now()); err != nil {
			fmt.Fprintln(os.Stderr, "archiving log:", err)
		} else {
			fmt.Println("Log archived to", target)
		}
	}()

	var accounts *AccountBook
	if config.AccountsFile != "" {
		accounts = NewAccountBook(config.AccountsFile)
		if err := accounts.Load(); err != nil {
			return err
		}
		logger.Info("name claims enabled", "file", config.AccountsFile, "claimed", len(accounts.Names()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(config, accounts, logger)

	if console {
		go func() {
			if runConsole(os.Stdin, os.Stdout, srv, config) {
				stop()
			}
		}()
	}

	return srv.ListenAndServe(ctx)
}
