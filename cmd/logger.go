package cmd

import (
	"log/slog"
	"os"
)

// ProvideLogger builds the process-wide structured logger every package
// under internal/ takes as a *slog.Logger dependency.
func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
