package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewHandler_Formats(t *testing.T) {
	t.Parallel()

	var jsonBuf bytes.Buffer
	slog.New(newHandler(&jsonBuf, "info", "json")).Info("webhook.message.inserted", "message_id", "wamid.1")

	var rec map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &rec); err != nil {
		t.Fatalf("json output: %v (%q)", err, jsonBuf.String())
	}
	if rec["msg"] != "webhook.message.inserted" || rec["message_id"] != "wamid.1" {
		t.Fatalf("unexpected json record: %v", rec)
	}

	var prettyBuf bytes.Buffer
	slog.New(newHandler(&prettyBuf, "info", "pretty")).Debug("hidden")
	slog.New(newHandler(&prettyBuf, "info", "pretty")).Info("chat.send.ok", "chat_id", "919937320320")

	out := prettyBuf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record must be filtered: %q", out)
	}
	if !strings.Contains(out, "[INFO]") || !strings.Contains(out, "chat_id=919937320320") {
		t.Fatalf("unexpected pretty output: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("buffers must not be colored: %q", out)
	}
}
