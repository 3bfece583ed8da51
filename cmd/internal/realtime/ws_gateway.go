package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "konnect/shared/contracts/live/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSConfig configures WSGateway. Zero values fall back to defaults.
type WSConfig struct {
	// DevInsecure disables websocket.Accept's own origin verification.
	DevInsecure bool

	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool

	// AllowedOrigins is the Origin allowlist; "*" allows any origin.
	AllowedOrigins []string

	// RequireSubprotocol rejects clients that do not negotiate v1.Subprotocol.
	RequireSubprotocol bool

	WriteTimeout     time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	RateEvents       int
	RateWindow       time.Duration
}

// WSConfigFromEnv reads KONNECT_WS_* variables.
func WSConfigFromEnv() WSConfig {
	return WSConfig{
		DevInsecure:        envBoolWS("KONNECT_WS_DEV_INSECURE", false),
		OriginRequired:     envBoolWS("KONNECT_WS_ORIGIN_REQUIRED", false),
		AllowedOrigins:     envCSVWS("KONNECT_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins),
		RequireSubprotocol: envBoolWS("KONNECT_WS_REQUIRE_SUBPROTOCOL", false),
		WriteTimeout:       envDurationWS("KONNECT_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout),
		SendQueueSize:      envIntWS("KONNECT_WS_SEND_QUEUE", wsDefaultSendQueueSize),
		HeartbeatEvery:     envDurationWS("KONNECT_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		HeartbeatTimeout:   envDurationWS("KONNECT_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),
		RateEvents:         envIntWS("KONNECT_WS_RATE_EVENTS", rateLimitEvents),
		RateWindow:         envDurationWS("KONNECT_WS_RATE_WINDOW", rateLimitWindow),
	}
}

func (c WSConfig) withDefaults() WSConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// WSGateway is the WebSocket entrypoint of the live channel.
//
// The channel is push-only: each connection is subscribed to the Hub, greeted with a hello
// envelope and then receives newMessage envelopes. Inbound frames are read only to detect
// disconnects and are discarded under a per-connection rate limit.
type WSGateway struct {
	log *slog.Logger
	hub *Hub
	cfg WSConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway. A nil hub gets a private Hub.
func NewWSGateway(log *slog.Logger, hub *Hub, cfg WSConfig) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}

	cfg = cfg.withDefaults()
	return &WSGateway{
		log:            log,
		hub:            hub,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP upgrades the request and serves the connection until either side closes it.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure || g.allowsAnyOrigin(),
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); g.cfg.RequireSubprotocol && sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := NewSessionID()
	client := NewClient(sessionID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unsubscribe(sessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// hello is queued before subscribing and the writer starts after, so hello is always the
	// first frame and a client holding it is already subscribed.
	helloPayload, _ := json.Marshal(v1.HelloPayload{SessionID: sessionID})
	client.Offer(newEnvelope(v1.TypeHello, helloPayload, time.Now().UTC()))
	g.hub.Subscribe(client)

	g.log.Info("ws.connect", "session_id", sessionID, "subprotocol", conn.Subprotocol(), "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		// No idle deadline: a quiet client is normal on a push-only channel; heartbeats detect dead peers.
		_, _, err := conn.Read(ctx)
		if err != nil {
			code, reason := closeFor(err)
			if code == websocket.StatusAbnormalClosure {
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
			}
			shutdown(code, reason)
			break
		}

		if !rl.Allow(time.Now()) {
			g.log.Warn("ws.rate_limited", "session_id", sessionID)
			p, _ := json.Marshal(v1.ErrorPayload{Code: "rate_limited", Message: "too many frames"})
			_ = writeEnvelope(ctx, conn, newEnvelope(v1.TypeError, p, time.Now().UTC()), g.cfg.WriteTimeout)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}
	}

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.disconnect", "session_id", sessionID, "dropped", client.Dropped())
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// closeFor maps a read error to the status used to close our side.
func closeFor(err error) (websocket.StatusCode, string) {
	switch {
	case websocket.CloseStatus(err) != -1:
		return websocket.StatusNormalClosure, "peer closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return websocket.StatusGoingAway, "server shutting down"
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "conn closed"
	default:
		return websocket.StatusAbnormalClosure, "read failed"
	}
}

// ---- origin policy ----

func (g *WSGateway) allowsAnyOrigin() bool {
	for _, a := range g.cfg.AllowedOrigins {
		if strings.TrimSpace(a) == "*" {
			return true
		}
	}
	return false
}

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			// Host match ignores scheme and port.
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into websocket.Accept host patterns so both
// origin checks agree.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		// Accept matches against the origin host including any port.
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
