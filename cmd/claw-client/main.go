// ABOUTME: Interactive terminal client for claw-gateway.
// ABOUTME: Speaks the binary frame protocol over WebSocket; lines become chat.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/fatih/color"

	"github.com/2389/claw-gateway/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(configPath())
	if err != nil {
		return err
	}
	color.NoColor = !cfg.Display.Color

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, cfg.Gateway.URL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Gateway.URL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(1 << 22)

	c := &client{cfg: cfg, conn: conn}
	go c.readLoop(ctx, cancel)

	scanner := bufio.NewScanner(os.Stdin)
	prompt := color.New(color.FgGreen)
	for {
		prompt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			done, err := c.command(ctx, line)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}
		if err := c.send(ctx, &protocol.Chat{Text: line}); err != nil {
			return err
		}
	}
}

type client struct {
	cfg  *Config
	conn *websocket.Conn
}

func (c *client) send(ctx context.Context, p protocol.ClientPayload) error {
	data, err := protocol.EncodeClient(protocol.NewClientFrame(p))
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

// command handles slash commands. Returns true when the client should
// exit.
func (c *client) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/unlock":
		password := c.cfg.Auth.VaultPassword
		if len(fields) > 1 {
			password = fields[1]
		}
		if password == "" {
			fmt.Println("no vault password; pass one or set auth.vault_password")
			return false, nil
		}
		return false, c.send(ctx, &protocol.UnlockVault{Password: password})
	case "/auth":
		if len(fields) != 2 {
			fmt.Println("usage: /auth <code>")
			return false, nil
		}
		return false, c.send(ctx, &protocol.AuthResponse{Code: fields[1]})
	case "/secrets":
		return false, c.send(ctx, &protocol.SecretsList{})
	case "/tasks":
		return false, c.send(ctx, &protocol.TasksRequest{})
	case "/threads":
		return false, c.send(ctx, &protocol.ThreadList{})
	case "/switch":
		if len(fields) != 2 {
			fmt.Println("usage: /switch <thread-id>")
			return false, nil
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			fmt.Println("bad thread id")
			return false, nil
		}
		return false, c.send(ctx, &protocol.ThreadSwitch{ThreadID: id})
	case "/cancel":
		return false, c.send(ctx, &protocol.Cancel{})
	case "/approve", "/deny":
		if len(fields) != 2 {
			fmt.Printf("usage: %s <approval-id>\n", fields[0])
			return false, nil
		}
		return false, c.send(ctx, &protocol.ToolApprovalResponse{
			ID:       fields[1],
			Approved: fields[0] == "/approve",
		})
	default:
		fmt.Printf("unknown command: %s\n", fields[0])
		return false, nil
	}
}

func (c *client) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		f, err := protocol.DecodeServer(data)
		if err != nil {
			color.Red("bad frame from server: %v", err)
			continue
		}
		c.render(f)
	}
}

func (c *client) render(f protocol.ServerFrame) {
	gray := color.New(color.FgHiBlack)
	switch p := f.Payload.(type) {
	case *protocol.Hello:
		gray.Printf("connected to %s (vault locked: %t)\n", p.Agent, p.VaultLocked)
	case *protocol.AuthChallenge:
		color.Yellow("second factor required; answer with /auth <code>")
	case *protocol.AuthResult:
		if p.OK {
			color.Green("authenticated")
		} else {
			color.Red("auth failed: %s", p.Message)
		}
	case *protocol.AuthLocked:
		color.Red("locked out: %s (retry in %ds)", p.Message, p.RetryAfterSecs)
	case *protocol.VaultUnlocked:
		if p.OK {
			color.Green("vault unlocked")
		} else {
			color.Red("unlock failed: %s", p.Message)
		}
	case *protocol.Status:
		gray.Printf("status: %d %s\n", p.Status, p.Detail)
	case *protocol.StreamStart:
		// quiet
	case *protocol.Chunk:
		fmt.Print(p.Delta)
	case *protocol.ThinkingStart:
		if c.cfg.Display.ShowThinking {
			gray.Print("[thinking] ")
		}
	case *protocol.ThinkingDelta:
		if c.cfg.Display.ShowThinking {
			gray.Print(p.Delta)
		}
	case *protocol.ThinkingEnd:
		if c.cfg.Display.ShowThinking {
			gray.Println()
		}
	case *protocol.ToolApprovalRequest:
		color.Yellow("\ntool %s wants to run %s — /approve %s or /deny %s", p.Name, p.Arguments, p.ID, p.ID)
	case *protocol.ToolCall:
		gray.Printf("\n[tool %s] %s\n", p.Name, p.Arguments)
	case *protocol.ToolResult:
		if p.IsError {
			color.Red("[tool error] %s", p.Result)
		} else {
			gray.Printf("[tool result] %s\n", p.Result)
		}
	case *protocol.ResponseDone:
		fmt.Println()
	case *protocol.ErrorFrame:
		color.Red("error: %s", p.Message)
	case *protocol.Info:
		gray.Println(p.Message)
	case *protocol.SecretsListResult:
		for _, e := range p.Entries {
			state := ""
			if e.Disabled {
				state = " (disabled)"
			}
			fmt.Printf("  %s  policy=%s%s\n", e.Name, e.Policy, state)
		}
	case *protocol.TasksUpdate:
		for _, t := range p.Tasks {
			fmt.Printf("  #%d  %s  %s\n", t.ID, t.Status, t.Label)
		}
	case *protocol.ThreadsUpdate:
		for _, th := range p.Threads {
			marker := " "
			if th.IsForeground {
				marker = "*"
			}
			fmt.Printf(" %s #%d  %s  %s\n", marker, th.ID, th.Status, th.Label)
		}
	case *protocol.ThreadCreated:
		gray.Printf("thread #%d created: %s\n", p.ThreadID, p.Label)
	case *protocol.ThreadSwitched:
		gray.Printf("switched to thread #%d\n", p.ThreadID)
		if p.ContextSummary != "" {
			gray.Printf("  %s\n", p.ContextSummary)
		}
	default:
		gray.Printf("[%s]\n", f.Kind)
	}
}
