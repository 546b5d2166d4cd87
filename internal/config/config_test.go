package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "jsondb.yaml"))
		if err != nil {
			t.Fatal(err)
		}
		if *cfg != *Default() {
			t.Errorf("Load() = %+v, want defaults", cfg)
		}
	})

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "jsondb.yaml")
		content := "db: data/app.json\nlog_level: debug\nhistory:\n  enabled: true\n  author_name: Ada\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		want := Config{
			DB:       "data/app.json",
			LogLevel: "debug",
			History:  History{Enabled: true, AuthorName: "Ada", AuthorEmail: "jsondb@localhost"},
		}
		if *cfg != want {
			t.Errorf("Load() = %+v, want %+v", cfg, want)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
		}{
			{"syntax", "db: [unterminated\n"},
			{"empty db", "db: \"\"\n"},
			{"bad level", "log_level: loud\n"},
			{"history without author", "history:\n  enabled: true\n  author_email: \"\"\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "jsondb.yaml")
				if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
					t.Fatal(err)
				}
				if _, err := Load(path); err == nil {
					t.Error("expected error")
				}
			})
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}
