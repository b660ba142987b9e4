// Package logging owns the process-wide zerolog loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Format uint8

const (
	ConsoleFormat Format = iota
	JSONFormat
)

var (
	Root       zerolog.Logger = zerolog.Nop()
	Store      zerolog.Logger = zerolog.Nop()
	Dispute    zerolog.Logger = zerolog.Nop()
	Registry   zerolog.Logger = zerolog.Nop()
	Settlement zerolog.Logger = zerolog.Nop()
	Outbox     zerolog.Logger = zerolog.Nop()
	HTTP       zerolog.Logger = zerolog.Nop()
)

type Options struct {
	Level  zerolog.Level
	Format Format
	// Out defaults to stdout.
	Out io.Writer
}

func ParseLevel(level string) (zerolog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(level))
}

func ParseFormat(format string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		return ConsoleFormat, nil
	case "json":
		return JSONFormat, nil
	default:
		return 0, fmt.Errorf("logging: unknown format %q", format)
	}
}

func Init(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Format == ConsoleFormat {
		out = newConsoleWriter(out)
	}

	Root = zerolog.New(out).Level(opts.Level).With().Timestamp().Logger()
	Store = Root.With().Str("component", "store").Logger()
	Dispute = Root.With().Str("component", "dispute").Logger()
	Registry = Root.With().Str("component", "registry").Logger()
	Settlement = Root.With().Str("component", "settlement").Logger()
	Outbox = Root.With().Str("component", "outbox").Logger()
	HTTP = Root.With().Str("component", "http").Logger()
}

func newConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}

	cw.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	cw.FormatFieldName = func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
	return cw
}
