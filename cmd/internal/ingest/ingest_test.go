package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"konnect/cmd/internal/chat"
)

const batchMessage = `{
  "payload_type": "whatsapp_webhook",
  "_id": "conv1-msg1-user",
  "metaData": {
    "entry": [{
      "changes": [{
        "field": "messages",
        "value": {
          "contacts": [{"profile": {"name": "Ravi Kumar"}, "wa_id": "919937320320"}],
          "messages": [{
            "from": "919937320320",
            "id": "wamid.conv1.msg1",
            "timestamp": "1754400000",
            "text": {"body": "Hi, I'd like to know more about your services."},
            "type": "text"
          }],
          "messaging_product": "whatsapp",
          "metadata": {"display_phone_number": "918329446654", "phone_number_id": "629305560276479"}
        }
      }],
      "id": "30164062719905277"
    }],
    "gs_app_id": "conv1-app",
    "object": "whatsapp_business_account"
  },
  "createdAt": "2025-08-06 12:00:00",
  "executed": true
}`

const batchStatus = `{
  "payload_type": "whatsapp_webhook",
  "_id": "conv1-msg1-status",
  "metaData": {
    "entry": [{
      "changes": [{
        "field": "messages",
        "value": {
          "statuses": [{
            "id": "wamid.conv1.msg1",
            "meta_msg_id": "wamid.conv1.msg1",
            "recipient_id": "919937320320",
            "status": "read",
            "timestamp": "1754400010"
          }]
        }
      }]
    }]
  }
}`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDir_ProcessesFilesInLexicalOrder(t *testing.T) {
	t.Parallel()

	// The status file sorts after the message it refers to.
	dir := writeFiles(t, map[string]string{
		"conversation_1_message_1.json": batchMessage,
		"conversation_1_status_1.json":  batchStatus,
		"README.txt":                    "not a batch",
	})
	if err := os.Mkdir(filepath.Join(dir, "nested.json"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	st := chat.NewInMemoryStore()
	sum, err := Dir(context.Background(), dir, chat.NewNormalizer(st, nil, discard()), discard())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Files != 2 || sum.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Report.Inserted != 1 || sum.Report.StatusApplied != 1 {
		t.Fatalf("unexpected report: %+v", sum.Report)
	}

	msgs, _ := st.FindByChat(context.Background(), "919937320320")
	if len(msgs) != 1 || msgs[0].Status != chat.StatusRead || msgs[0].Name != "Ravi Kumar" {
		t.Fatalf("unexpected stored messages: %+v", msgs)
	}
}

func TestDir_RerunIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"a.json": batchMessage})
	st := chat.NewInMemoryStore()
	norm := chat.NewNormalizer(st, nil, discard())

	if _, err := Dir(context.Background(), dir, norm, discard()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sum, err := Dir(context.Background(), dir, norm, discard())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.Report.Inserted != 0 || sum.Report.Duplicates != 1 {
		t.Fatalf("expected duplicate on rerun, got %+v", sum.Report)
	}
}

func TestDir_BadFileDoesNotStopTheRun(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{
		"a_broken.json": `{"metaData": {"entry": [`,
		"b_good.json":   batchMessage,
	})

	st := chat.NewInMemoryStore()
	sum, err := Dir(context.Background(), dir, chat.NewNormalizer(st, nil, discard()), discard())
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if sum.Files != 2 || sum.Failed != 1 || sum.Report.Inserted != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestDir_UnreadableDirectory(t *testing.T) {
	t.Parallel()

	_, err := Dir(context.Background(), filepath.Join(t.TempDir(), "missing"), chat.NewNormalizer(chat.NewInMemoryStore(), nil, discard()), discard())
	if err == nil || errors.Is(err, ErrDecode) {
		t.Fatalf("expected directory error, got %v", err)
	}
}

const batchMixed = `{
  "_id": "conv2-mixed",
  "metaData": {
    "entry": [{
      "changes": [
        {"value": {
          "contacts": [{"profile": {"name": "Ravi Kumar"}, "wa_id": "919937320320"}],
          "messages": [{"from": "919937320320", "id": "wamid.mixed.ok", "timestamp": "1754400000", "text": {"body": "ok"}, "type": "text"}]
        }},
        {"value": {
          "contacts": [{"profile": {"name": "Neha"}, "wa_id": "929967673820"}],
          "messages": [{"from": "929967673820", "id": "wamid.mixed.bad", "timestamp": {"when": "now"}, "text": {"body": "bad"}, "type": "text"}]
        }},
        {"value": {
          "statuses": [
            {"id": "wamid.mixed.ok", "status": "delivered", "timestamp": "1754400010.5"},
            {"id": "wamid.mixed.ok", "status": "read", "timestamp": "soon"}
          ]
        }}
      ]
    }]
  }
}`

func TestDir_BadFieldFailsOnlyItsItem(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"mixed.json": batchMixed})
	st := chat.NewInMemoryStore()

	sum, err := Dir(context.Background(), dir, chat.NewNormalizer(st, nil, discard()), discard())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Files != 1 || sum.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	want := chat.Report{Inserted: 1, StatusApplied: 1, Failed: 2}
	if sum.Report != want {
		t.Fatalf("report=%+v want %+v", sum.Report, want)
	}

	m, err := st.LatestInChat(context.Background(), "919937320320")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if m.Status != chat.StatusDelivered || m.Timestamp.Unix() != 1754400010 {
		t.Fatalf("expected truncated delivered status, got %s at %d", m.Status, m.Timestamp.Unix())
	}
	if _, err := st.LatestInChat(context.Background(), "929967673820"); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("message with bad timestamp must not be stored, got %v", err)
	}
}
