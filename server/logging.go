package main

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const liveLogName = "server.log"

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging writes to stdout and to <dir>/server.log at once.
func setupLogging(dir, level string, stdout io.Writer) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, liveLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := slog.NewTextHandler(io.MultiWriter(stdout, logFile), &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler), logFile, nil
}

// archiveLog packs the live log into logs-<timestamp>.tar.gz next to it
// and removes the live file.
func archiveLog(dir string, now time.Time) (string, error) {
	source := filepath.Join(dir, liveLogName)
	target := filepath.Join(dir, fmt.Sprintf("logs-%s.tar.gz", now.Format("20060102-150405")))

	file, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("opening log for archiving: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log: %w", err)
	}

	outFile, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	header, err := tar.FileInfoHeader(info, info.Name())
	if err != nil {
		return "", fmt.Errorf("tar header: %w", err)
	}
	header.Name = liveLogName
	if err := tw.WriteHeader(header); err != nil {
		return "", fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return "", fmt.Errorf("compressing log: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	if err := outFile.Close(); err != nil {
		return "", err
	}

	file.Close()
	if err := os.Remove(source); err != nil {
		return target, fmt.Errorf("removing live log: %w", err)
	}
	return target, nil
}
