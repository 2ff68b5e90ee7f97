// Package wsclient implements world.Connector over the voxel world websocket
// protocol: HELLO/WELCOME handshake, CATALOG and OBS frames in, ACT frames out.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelagent.ai/internal/logging"
	"voxelagent.ai/internal/protocol"
	"voxelagent.ai/internal/version"
	"voxelagent.ai/internal/world"
)

type Config struct {
	// Scheme is "ws" or "wss". Default "ws".
	Scheme string
	// Path is the websocket endpoint on the world server. Default "/v1/ws".
	Path string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout bounds the gap between two server frames.
	ReadTimeout time.Duration
	// FirstObsTimeout bounds how long an operation waits for the first OBS
	// before it can address an ACT.
	FirstObsTimeout time.Duration

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Scheme == "" {
		c.Scheme = "ws"
	}
	if c.Path == "" {
		c.Path = "/v1/ws"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.FirstObsTimeout <= 0 {
		c.FirstObsTimeout = 2 * time.Second
	}
	return c
}

type Connector struct {
	cfg Config
	log *zap.Logger
}

func NewConnector(cfg Config) *Connector {
	cfg = cfg.withDefaults()
	return &Connector{cfg: cfg, log: logging.OrNop(cfg.Logger).Named("wsclient")}
}

// URL is the endpoint Connect dials for p.
func (c *Connector) URL(p world.ConnectParams) string {
	u := url.URL{
		Scheme: c.cfg.Scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   c.cfg.Path,
	}
	return u.String()
}

// Connect dials the world, sends HELLO and waits for WELCOME. The returned
// session spawns on its first OBS frame.
func (c *Connector) Connect(ctx context.Context, p world.ConnectParams) (world.Session, error) {
	d := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := d.DialContext(ctx, c.URL(p), http.Header{})
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.NewHello(p.Username)
	hello.ClientVersion = version.Version
	if p.Auth != "" || p.Password != "" {
		hello.Auth = &protocol.HelloAuth{Mode: p.Auth, Token: p.Password}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	w, err := c.awaitWelcome(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := newSession(c.cfg, c.log, conn, p.Username, w)
	go s.readLoop()
	c.log.Info("connected", zap.String("url", c.URL(p)), zap.String("agent_id", w.AgentID))
	return s, nil
}

func (c *Connector) awaitWelcome(ctx context.Context, conn *websocket.Conn) (protocol.WelcomeMsg, error) {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return protocol.WelcomeMsg{}, ctx.Err()
			}
			return protocol.WelcomeMsg{}, fmt.Errorf("await welcome: %w", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeWelcome {
			continue
		}
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return protocol.WelcomeMsg{}, fmt.Errorf("bad welcome: %w", err)
		}
		if !protocol.IsSupportedVersion(w.ProtocolVersion) {
			return protocol.WelcomeMsg{}, fmt.Errorf("unsupported protocol version %q", w.ProtocolVersion)
		}
		return w, nil
	}
}
