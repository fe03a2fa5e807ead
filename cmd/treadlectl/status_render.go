package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"treadle/state"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func renderStatus(status state.Status, colorize bool) string {
	text := string(status)
	if !colorize {
		return text
	}
	switch status {
	case state.StatusCompleted:
		return ansiGreen + text + ansiReset
	case state.StatusFailed:
		return ansiRed + text + ansiReset
	case state.StatusAwaitingReview, state.StatusRunning, state.StatusFannedOut:
		return ansiYellow + text + ansiReset
	default:
		return text
	}
}

func renderHealthLine(label, value string, ok bool, colorize bool) string {
	line := fmt.Sprintf("  %-14s %s", label+":", value)
	if !colorize {
		return line
	}
	if ok {
		return ansiGreen + line + ansiReset
	}
	return ansiRed + line + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
