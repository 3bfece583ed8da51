package main

import (
	"errors"
	"testing"

	"konnect/cmd/internal/app"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()

	base := app.Config{StoreDriver: app.DriverMemory, LogLevel: "info", LogFormat: "json"}

	cases := []struct {
		name       string
		args       []string
		wantDriver string
		wantErr    error
		anyErr     bool
	}{
		{name: "memory_default_rejected", args: []string{"--dir", "data"}, wantErr: errVolatileStore},
		{name: "memory_flag_rejected", args: []string{"--dir", "data", "--driver", " Memory "}, wantErr: errVolatileStore},
		{name: "empty_driver_rejected", args: []string{"--dir", "data", "--driver", ""}, wantErr: errVolatileStore},
		{name: "sqlite", args: []string{"--dir", "data", "--driver", "SQLite", "--dsn", "file:x.db"}, wantDriver: app.DriverSQLite},
		{name: "missing_dir", args: []string{"--driver", "sqlite"}, anyErr: true},
		{name: "stray_argument", args: []string{"--dir", "data", "--driver", "sqlite", "extra"}, anyErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir, cfg, err := parseArgs(tc.args, base)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			case tc.anyErr:
				if err == nil {
					t.Fatalf("expected an error")
				}
			default:
				if err != nil {
					t.Fatalf("parse: %v", err)
				}
				if dir != "data" || cfg.StoreDriver != tc.wantDriver || cfg.StoreDSN != "file:x.db" {
					t.Fatalf("unexpected result dir=%q cfg=%+v", dir, cfg)
				}
			}
		})
	}
}
