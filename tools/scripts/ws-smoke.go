// Package main provides a CI-friendly smoke test for the Konnect live channel.
//
// It validates:
//   - handshake + optional subprotocol selection
//   - hello carrying a session id
//   - webhook insert fanned out as newMessage to two clients
//   - webhook redelivery is ignored and not re-broadcast
//   - outbound send fanned out with isSent=true
//   - the message list contains both messages in order
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "konnect/shared/contracts/live/v1"
	"konnect/shared/contracts/webhook"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = pflag.String("url", "http://127.0.0.1:5000", "Konnect base URL")
		origin  = pflag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		chatID  = pflag.String("chat", "919000000001", "Chat (wa_id) used for the run")
		text    = pflag.String("text", "hello konnect 👋", "Outbound message text")
		timeout = pflag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = pflag.BoolP("verbose", "v", false, "Verbose output")
	)
	pflag.Parse()

	wsURL, err := wsURLFor(*baseURL)
	if err != nil {
		fatalf("invalid --url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid --origin: %v", err)
	}

	root := context.Background()
	httpc := &http.Client{Timeout: *timeout}

	a := mustConnect(root, "A", wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	inboundID := fmt.Sprintf("wamid.smoke.%d", time.Now().UnixNano())
	payload := webhookPayload(*chatID, inboundID, "smoke inbound", time.Now())

	res := mustPostJSON(httpc, *baseURL+"/api/webhook", payload, http.StatusOK)
	if !res.Success {
		fatalf("webhook: unexpected result %+v", res)
	}
	for _, c := range []*smokeClient{a, b} {
		m := c.mustReadNewMessage(root, *timeout)
		if m.ID != inboundID || m.ChatID != *chatID || m.IsSent {
			fatalf("inbound newMessage mismatch (%s): %+v", c.name, m)
		}
	}

	res = mustPostJSON(httpc, *baseURL+"/api/webhook", payload, http.StatusOK)
	if !res.Success || res.Message != "Duplicate message ignored" {
		fatalf("redelivery: unexpected result %+v", res)
	}
	mustAssertNoType(root, a, v1.TypeNewMessage, 1200*time.Millisecond)
	mustAssertNoType(root, b, v1.TypeNewMessage, 1200*time.Millisecond)

	var sent v1.Message
	mustPostDecode(httpc, *baseURL+"/api/messages", v1.SendMessageRequest{ChatID: *chatID, Content: *text}, &sent)
	for _, c := range []*smokeClient{a, b} {
		m := c.mustReadNewMessage(root, *timeout)
		if m.ID != sent.ID || !m.IsSent || m.Content != *text {
			fatalf("outbound newMessage mismatch (%s): %+v", c.name, m)
		}
	}

	msgs := mustGetMessages(httpc, *baseURL, *chatID)
	if len(msgs) < 2 || msgs[len(msgs)-2].ID != inboundID || msgs[len(msgs)-1].ID != sent.ID {
		fatalf("message list does not end with inbound then outbound: %+v", msgs)
	}

	fmt.Printf("OK: A=%s B=%s chat=%s inbound=%s outbound=%s\n", a.sessionID, b.sessionID, *chatID, inboundID, sent.ID)
}

func wsURLFor(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func webhookPayload(waID, messageID, body string, at time.Time) webhook.Payload {
	return webhook.Payload{
		Object: "whatsapp_business_account",
		Entry: []webhook.Entry{{
			Changes: []webhook.Change{{
				Field: "messages",
				Value: webhook.Value{
					MessagingProduct: "whatsapp",
					Contacts:         []webhook.Contact{{Profile: webhook.Profile{Name: "Smoke Test"}, WaID: waID}},
					Messages: []webhook.Message{{
						From:      waID,
						ID:        messageID,
						Timestamp: webhook.At(at),
						Text:      &webhook.Text{Body: body},
						Type:      "text",
					}},
				},
			}},
		}},
	}
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := c.mustReadUntilType(parent, v1.TypeHello, stepTimeout)

	var p v1.HelloPayload
	if err := json.Unmarshal(hello.Payload, &p); err != nil {
		fatalf("unmarshal hello payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello missing sessionId (%s)", name)
	}
	c.sessionID = p.SessionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustReadNewMessage(parent context.Context, stepTimeout time.Duration) v1.Message {
	env := c.mustReadUntilType(parent, v1.TypeNewMessage, stepTimeout)

	var m v1.Message
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		fatalf("unmarshal newMessage payload (%s): %v", c.name, err)
	}
	if m.Timestamp.IsZero() {
		fatalf("newMessage timestamp missing/zero (%s)", c.name)
	}
	return m
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustPostJSON(httpc *http.Client, target string, body any, wantStatus int) v1.Result {
	var res v1.Result
	status := postJSON(httpc, target, body, &res)
	if status != wantStatus {
		fatalf("POST %s: status=%d want=%d result=%+v", target, status, wantStatus, res)
	}
	return res
}

func mustPostDecode(httpc *http.Client, target string, body, dst any) {
	if status := postJSON(httpc, target, body, dst); status != http.StatusOK {
		fatalf("POST %s: status=%d", target, status)
	}
}

func postJSON(httpc *http.Client, target string, body, dst any) int {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	resp, err := httpc.Post(target, "application/json", bytes.NewReader(b))
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("POST %s: read body: %v", target, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		fatalf("POST %s: decode %q: %v", target, raw, err)
	}
	return resp.StatusCode
}

func mustGetMessages(httpc *http.Client, base, chatID string) []v1.Message {
	target := base + "/api/chats/" + url.PathEscape(chatID) + "/messages"
	resp, err := httpc.Get(target)
	if err != nil {
		fatalf("GET %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("GET %s: status=%d", target, resp.StatusCode)
	}
	var msgs []v1.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		fatalf("GET %s: decode: %v", target, err)
	}
	return msgs
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
