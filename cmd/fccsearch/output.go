package main

import (
	"fmt"
	"os"
)

// Result listings go to stdout so they can be piped; status and progress
// lines go to stderr.

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

// colorsEnabled honors both the --no-color flag and the NO_COLOR convention.
func colorsEnabled() bool {
	if noColor {
		return false
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return true
}

func colorize(code, text string) string {
	if !colorsEnabled() {
		return text
	}
	return code + text + ansiReset
}

// bold highlights dataset names and listing footers.
func bold(text string) string { return colorize(ansiBold, text) }

// accent marks secondary listing detail, like edit stamps.
func accent(text string) string { return colorize(ansiCyan, text) }

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(ansiGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(ansiRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(ansiYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(ansiCyan, "→ "+fmt.Sprintf(format, args...)))
}

// printStatus writes one aligned "label: value" line, as used by the status
// command and facet echoes.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", bold(label+":"), fmt.Sprintf(format, args...))
}
