package chatapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"konnect/cmd/internal/chat"
	v1 "konnect/shared/contracts/live/v1"
)

const testAccount = "918329446654"

type countingObserver struct {
	mu  sync.Mutex
	ids []string
}

func (c *countingObserver) MessageInserted(_ context.Context, m chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, m.MessageID)
}

func (c *countingObserver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

type testServer struct {
	router *mux.Router
	store  *chat.InMemoryStore
	obs    *countingObserver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := chat.NewInMemoryStore()
	obs := &countingObserver{}
	svc := chat.NewService(st, obs, log, chat.ServiceConfig{AccountID: testAccount})
	norm := chat.NewNormalizer(st, obs, log)

	r := mux.NewRouter()
	NewHandler(log, svc, norm).Register(r.PathPrefix("/api").Subrouter())
	return &testServer{router: r, store: st, obs: obs}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

const webhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "30164062719905277",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "918329446654", "phone_number_id": "629305560276479"},
        "contacts": [{"profile": {"name": "Neha Joshi"}, "wa_id": "919937320320"}],
        "messages": [{
          "from": "919937320320",
          "id": "wamid.HBgMOTE5OTM3MzIwMzIwFQIAEhggQ0FBQkNERUYwMDFGRjEyMzQ1NkZGQTk5RTJCM0I2NzY=",
          "timestamp": "1754401000",
          "text": {"body": "Hi, I saw your ad. Can you share more details?"},
          "type": "text"
        }]
      }
    }]
  }]
}`

func TestHandler_WebhookThenListAndSend(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/webhook", webhookBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook: status %d body %s", rr.Code, rr.Body.String())
	}
	var res v1.Result
	decodeBody(t, rr, &res)
	if !res.Success {
		t.Fatalf("webhook: expected success, got %+v", res)
	}

	rr = s.do(t, http.MethodPost, "/api/webhook", webhookBody)
	decodeBody(t, rr, &res)
	if rr.Code != http.StatusOK || !res.Success || res.Message != "Duplicate message ignored" {
		t.Fatalf("redelivery: status %d result %+v", rr.Code, res)
	}

	rr = s.do(t, http.MethodGet, "/api/chats", "")
	var chats []v1.Chat
	decodeBody(t, rr, &chats)
	if len(chats) != 1 || chats[0].ID != "919937320320" || chats[0].Name != "Neha Joshi" {
		t.Fatalf("unexpected chats: %+v", chats)
	}
	if !chats[0].LastMessage.Timestamp.Equal(time.Unix(1754401000, 0)) {
		t.Fatalf("unexpected last message timestamp: %s", chats[0].LastMessage.Timestamp)
	}

	rr = s.do(t, http.MethodPost, "/api/messages", `{"chatId":"919937320320","content":"Sure, sending them now."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("send: status %d body %s", rr.Code, rr.Body.String())
	}
	var sent v1.Message
	decodeBody(t, rr, &sent)
	if !sent.IsSent || sent.IsRead || sent.Content != "Sure, sending them now." {
		t.Fatalf("unexpected sent message: %+v", sent)
	}

	rr = s.do(t, http.MethodGet, "/api/chats/919937320320/messages", "")
	var msgs []v1.Message
	decodeBody(t, rr, &msgs)
	if len(msgs) != 2 || msgs[1].ID != sent.ID || msgs[0].IsSent {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	rr = s.do(t, http.MethodGet, "/api/contacts", "")
	var contacts []v1.Chat
	decodeBody(t, rr, &contacts)
	if len(contacts) != 1 || contacts[0].LastMessage.Content != "Sure, sending them now." {
		t.Fatalf("unexpected contacts: %+v", contacts)
	}

	if got := s.obs.count(); got != 2 {
		t.Fatalf("expected 2 notifications (webhook insert + send), got %d", got)
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "send_unknown_chat", method: http.MethodPost, path: "/api/messages", body: `{"chatId":"nobody","content":"hi"}`, want: http.StatusNotFound},
		{name: "send_empty_content", method: http.MethodPost, path: "/api/messages", body: `{"chatId":"919937320320","content":"   "}`, want: http.StatusBadRequest},
		{name: "send_bad_json", method: http.MethodPost, path: "/api/messages", body: `{"chatId":`, want: http.StatusBadRequest},
		{name: "send_no_body", method: http.MethodPost, path: "/api/messages", body: "", want: http.StatusBadRequest},
		{name: "webhook_missing_entry", method: http.MethodPost, path: "/api/webhook", body: `{"entry":[]}`, want: http.StatusBadRequest},
		{name: "webhook_missing_contact", method: http.MethodPost, path: "/api/webhook", body: `{"entry":[{"changes":[{"value":{"messages":[{"id":"x","timestamp":"1"}]}}]}]}`, want: http.StatusBadRequest},
		{name: "webhook_bad_timestamp", method: http.MethodPost, path: "/api/webhook", body: `{"entry":[{"changes":[{"value":{"contacts":[{"wa_id":"1"}],"messages":[{"id":"x","timestamp":"soon"}]}}]}]}`, want: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t)
			// Seed a conversation so validation is reached for known chats.
			s.do(t, http.MethodPost, "/api/webhook", webhookBody)

			rr := s.do(t, tc.method, tc.path, tc.body)
			if rr.Code != tc.want {
				t.Fatalf("status %d want %d body %s", rr.Code, tc.want, rr.Body.String())
			}
			var res v1.Result
			decodeBody(t, rr, &res)
			if res.Success || res.Message == "" {
				t.Fatalf("expected failure with message, got %+v", res)
			}
		})
	}
}

func TestHandler_SendUnknownChatDoesNotWrite(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rr := s.do(t, http.MethodPost, "/api/messages", `{"chatId":"nobody","content":"hi"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	convs, err := s.store.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 0 || s.obs.count() != 0 {
		t.Fatalf("expected no write and no notification")
	}
}

func TestHandler_MarkRead(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/webhook", webhookBody)

	rr := s.do(t, http.MethodPut, "/api/chats/919937320320/read", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("mark read: status %d", rr.Code)
	}
	var res v1.Result
	decodeBody(t, rr, &res)
	if !res.Success {
		t.Fatalf("expected success")
	}

	rr = s.do(t, http.MethodGet, "/api/chats/919937320320/messages", "")
	var msgs []v1.Message
	decodeBody(t, rr, &msgs)
	if len(msgs) != 1 || !msgs[0].IsRead {
		t.Fatalf("expected message read: %+v", msgs)
	}
}

func TestHandler_UserStatusRoutes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	for _, path := range []string{"/api/user/919937320320/status", "/api/user/status/919937320320"} {
		rr := s.do(t, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rr.Code)
		}
		var st v1.UserStatus
		decodeBody(t, rr, &st)
		if st.IsOnline || st.LastSeen.IsZero() {
			t.Fatalf("%s: unexpected presence %+v", path, st)
		}
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/chats"},
		{http.MethodGet, "/api/messages"},
		{http.MethodPost, "/api/chats/919937320320/read"},
	} {
		rr := s.do(t, tc.method, tc.path, "")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, rr.Code)
		}
		var res v1.Result
		decodeBody(t, rr, &res)
		if res.Success {
			t.Fatalf("%s %s: expected failure body", tc.method, tc.path)
		}
	}

	if rr := s.do(t, http.MethodGet, "/api/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown path: expected 404, got %d", rr.Code)
	}
}

func TestHandler_WebhookTruncatesDecimalTimestamp(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	body := `{"entry":[{"changes":[{"value":{` +
		`"contacts":[{"profile":{"name":"Ravi"},"wa_id":"919937320320"}],` +
		`"messages":[{"from":"919937320320","id":"wamid.dec","timestamp":"1754401000.75","type":"text","text":{"body":"hi"}}]}}]}]}`

	rr := s.do(t, http.MethodPost, "/api/webhook", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook: status %d body %s", rr.Code, rr.Body.String())
	}

	m, err := s.store.LatestInChat(context.Background(), "919937320320")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if m.Timestamp.Unix() != 1754401000 {
		t.Fatalf("expected truncated timestamp, got %d", m.Timestamp.Unix())
	}
}
