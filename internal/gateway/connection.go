// ABOUTME: Per-connection WebSocket loop: handshake, frame dispatch, relay.
// ABOUTME: Owns the session state; spawned units reach the client via the mailbox.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/claw-gateway/internal/auth"
	"github.com/2389/claw-gateway/internal/bridge"
	"github.com/2389/claw-gateway/internal/protocol"
)

// connection serves one WebSocket client. All frame writes go through
// writeFrame; the write mutex keeps unit relays and direct replies from
// interleaving mid-frame.
type connection struct {
	gw        *Gateway
	conn      *websocket.Conn
	state     *auth.SessionState
	mailbox   *bridge.Mailbox
	sessionID string
	remoteIP  string
	logger    *slog.Logger

	writeMu sync.Mutex

	// binarySeen flips once the first binary frame arrives; legacy text
	// frames are rejected from then on.
	binarySeen bool

	units sync.WaitGroup
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	c := &connection{
		gw:        g,
		conn:      conn,
		state:     auth.NewSessionState(ip),
		mailbox:   bridge.NewMailbox(bridge.DefaultCapacity, g.logger),
		sessionID: uuid.NewString(),
		remoteIP:  ip,
		logger:    g.logger.With("component", "connection", "remote", ip),
	}

	c.logger.Info("client connected", "session", c.sessionID)
	c.run(r.Context())
	c.units.Wait()
	conn.Close(websocket.StatusNormalClosure, "bye")
	c.logger.Info("client disconnected", "session", c.sessionID)
}

func (c *connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.sendHello(ctx); err != nil {
		return
	}

	frames := make(chan protocol.ClientFrame)
	readErr := make(chan error, 1)
	go c.readLoop(ctx, frames, readErr)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		case f := <-frames:
			if err := c.handleFrame(ctx, f); err != nil {
				return
			}
		case msg := <-c.mailbox.C():
			if err := c.relay(ctx, msg); err != nil {
				return
			}
		}
	}
}

// sendHello emits the Hello frame and either issues the TOTP challenge or
// authenticates the connection outright. The challenge is only issued
// when a second factor is enrolled and the vault key is available to
// verify it; an enrolled factor behind a locked vault cannot be checked,
// so the client is told instead of bricked.
func (c *connection) sendHello(ctx context.Context) error {
	cfg := c.gw.config
	hello := &protocol.Hello{
		Agent:       agentName,
		SettingsDir: cfg.Database.Path,
		VaultLocked: c.gw.vault.Locked(),
	}
	if err := c.writeFrame(ctx, hello); err != nil {
		return err
	}

	hasTotp, err := c.gw.vault.HasTotp(ctx)
	if err != nil {
		c.logger.Error("totp enrollment check failed", "error", err)
		hasTotp = false
	}

	if hasTotp {
		if c.gw.vault.Locked() {
			// A second factor is enrolled but the vault holding it is
			// sealed, so no code can be verified. Fail closed: the
			// connection stays unauthenticated until the gateway is
			// restarted with the vault password.
			return c.writeFrame(ctx, &protocol.Status{
				Status: protocol.StatusVaultLocked,
				Detail: "vault is locked; authentication unavailable until it is unlocked",
			})
		}
		c.state.IssueChallenge()
		return c.writeFrame(ctx, &protocol.AuthChallenge{Method: "totp"})
	}

	// No second factor enrolled: the connection is trusted outright.
	// Session vault access still requires an UnlockVault frame.
	c.state.Authenticate()
	if c.gw.vault.Locked() {
		return c.writeFrame(ctx, &protocol.Status{
			Status: protocol.StatusVaultLocked,
			Detail: "vault is locked; unlock to access credentials",
		})
	}
	return c.writeFrame(ctx, &protocol.Status{
		Status: protocol.StatusCredentialsMissing,
		Detail: "no second factor enrolled",
	})
}

func (c *connection) readLoop(ctx context.Context, frames chan<- protocol.ClientFrame, readErr chan<- error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}

		if typ == websocket.MessageText || protocol.LooksLikeLegacyText(data) {
			f, err := c.legacyFrame(data)
			if err != nil {
				c.writeError(ctx, err.Error())
				continue
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
			continue
		}

		c.binarySeen = true
		f, err := protocol.DecodeClient(data)
		if err != nil {
			// A peer that cannot frame correctly gets no second chance.
			c.logger.Warn("frame rejected", "error", err)
			c.writeError(ctx, "malformed frame: "+err.Error())
			c.conn.Close(websocket.StatusUnsupportedData, "protocol error")
			readErr <- err
			return
		}

		select {
		case frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

// legacyMessage is the retired JSON text shape, accepted for chat only
// and only until the client has proven it speaks the binary protocol.
type legacyMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *connection) legacyFrame(data []byte) (protocol.ClientFrame, error) {
	if c.binarySeen {
		return protocol.ClientFrame{}, errors.New("legacy text frame after binary handshake")
	}
	var msg legacyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return protocol.ClientFrame{}, errors.New("unparseable legacy frame")
	}
	if msg.Type != "" && msg.Type != "chat" {
		return protocol.ClientFrame{}, errors.New("legacy frames support chat only")
	}
	return protocol.NewClientFrame(&protocol.Chat{Text: msg.Text}), nil
}

// relay forwards one mailbox message from an execution unit.
func (c *connection) relay(ctx context.Context, msg bridge.Message) error {
	switch msg.Type {
	case bridge.MessageFrame:
		return c.writeServerFrame(ctx, msg.Frame)
	case bridge.MessageDone:
		return c.writeFrame(ctx, &protocol.ResponseDone{OK: true})
	case bridge.MessageError:
		if err := c.writeError(ctx, msg.Error); err != nil {
			return err
		}
		return c.writeFrame(ctx, &protocol.ResponseDone{OK: false})
	default:
		c.logger.Error("unknown mailbox message type", "type", msg.Type)
		return nil
	}
}

func (c *connection) writeFrame(ctx context.Context, p protocol.ServerPayload) error {
	return c.writeServerFrame(ctx, protocol.NewServerFrame(p))
}

func (c *connection) writeServerFrame(ctx context.Context, f protocol.ServerFrame) error {
	data, err := protocol.EncodeServer(f)
	if err != nil {
		c.logger.Error("frame encode failed", "kind", f.Kind.String(), "error", err)
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (c *connection) writeError(ctx context.Context, message string) error {
	return c.writeFrame(ctx, &protocol.ErrorFrame{OK: false, Message: message})
}
