// Package main is the jsondb command line tool.
//
// jsondb inspects and edits a single-file JSON collection store. Configuration
// is read from CLI flags and an optional jsondb.yaml file; flags win.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/jsondb/internal/config"
	"github.com/maruel/jsondb/internal/history"
	"github.com/maruel/jsondb/internal/jsondb"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "jsondb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "jsondb.yaml", "Configuration file (optional)")
	dbPath := flag.String("db", "", "Data file (default from config, else db.json)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// Explicitly set flags override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *dbPath
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(level))

	if flag.NArg() == 0 {
		usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	var opts []jsondb.Option
	if cfg.History.Enabled {
		rec, err := history.Open(filepath.Dir(cfg.DB), history.Author{
			Name:  cfg.History.AuthorName,
			Email: cfg.History.AuthorEmail,
		})
		if err != nil {
			return err
		}
		opts = append(opts, jsondb.WithObserver(rec))
	}
	db, err := jsondb.Open(cfg.DB, opts...)
	if err != nil {
		return err
	}
	err = run(ctx, db, flag.Args(), os.Stdout)
	return errors.Join(err, db.Close())
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: jsondb [flags] <command> [args]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-40s %s\n", c.usage, c.help)
	}
	fmt.Fprintf(out, "\nflags:\n")
	flag.PrintDefaults()
}

// newLogger returns a tint logger on stderr, colored when stderr is a terminal.
func newLogger(level slog.Level) *slog.Logger {
	ll := &slog.LevelVar{}
	ll.Set(level)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("jsondb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
