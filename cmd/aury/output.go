package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/aury/internal/storage"
)

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorBold    = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// writePost renders one feed entry. maxContent truncates the body in runes;
// 0 prints it in full.
func writePost(w io.Writer, p storage.Post, maxContent int) {
	marker := colorize(colorCyan, "●")
	if p.IsBot {
		marker = colorize(colorMagenta, "◆")
	}
	fmt.Fprintf(w, "%s %s\n", marker, colorize(colorBold, p.Title))

	content := strings.TrimSpace(p.Content)
	if maxContent > 0 && utf8.RuneCountInString(content) > maxContent {
		content = string([]rune(content)[:maxContent]) + "..."
	}
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}

	meta := []string{shortID(p.ID), p.CreatedAt.Format("2006-01-02 15:04")}
	if len(p.Topics) > 0 {
		meta = append(meta, "#"+strings.Join(p.Topics, " #"))
	}
	fmt.Fprintf(w, "  %s\n\n", colorize(colorYellow, strings.Join(meta, "  ")))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
