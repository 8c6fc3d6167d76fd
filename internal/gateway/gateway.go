// ABOUTME: Gateway orchestrator: owns the store, vault, managers, and servers.
// ABOUTME: Run blocks until shutdown; Shutdown tears everything down in order.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/2389/claw-gateway/internal/auth"
	"github.com/2389/claw-gateway/internal/bridge"
	"github.com/2389/claw-gateway/internal/config"
	"github.com/2389/claw-gateway/internal/model"
	"github.com/2389/claw-gateway/internal/store"
	"github.com/2389/claw-gateway/internal/task"
	"github.com/2389/claw-gateway/internal/thread"
	"github.com/2389/claw-gateway/internal/token"
	"github.com/2389/claw-gateway/internal/vault"
)

// agentName is reported in the Hello frame on every connection.
const agentName = "claw-gateway"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// csrfTTL is how long an issued CSRF token stays valid.
const csrfTTL = 15 * time.Minute

// Gateway wires the stateful pieces together and serves the WebSocket
// and HTTP API endpoints.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	store    store.Store
	vault    *vault.Vault
	tasks    *task.Manager
	threads  *thread.Manager
	registry *bridge.Registry
	runner   model.Runner

	// authLimiter covers TOTP attempts; vaultLimiter covers unlock
	// attempts. The counters are independent.
	authLimiter  *auth.RateLimiter
	vaultLimiter *auth.RateLimiter
	sessions     *auth.SessionTokens
	csrf         *token.Store

	approvals *approvalBroker
	prompts   *promptBroker

	httpServer *http.Server

	persistCancel context.CancelFunc
	persistDone   chan struct{}

	mu       sync.Mutex
	shutdown bool
}

// New builds a gateway from configuration. The SQLite store is opened and
// the vault unlocked (when a password is configured) before any server
// starts, so a bad database path or wrong vault password fails fast.
func New(cfg *config.Config, runner model.Runner, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	v := vault.New(st, logger)
	if cfg.Vault.Password != "" {
		if err := v.Unlock(context.Background(), cfg.Vault.Password); err != nil {
			st.Close()
			return nil, fmt.Errorf("unlocking vault: %w", err)
		}
		logger.Info("vault unlocked at startup")
	} else {
		logger.Info("no vault password configured, vault stays locked")
	}

	if runner == nil {
		runner = model.NewCommandRunner(cfg.Runner.Shell, logger)
	}

	g := &Gateway{
		config:       cfg,
		logger:       logger,
		store:        st,
		vault:        v,
		tasks:        task.NewManager(logger),
		threads:      thread.NewManager(logger),
		registry:     bridge.NewRegistry(logger),
		runner:       runner,
		authLimiter:  auth.NewRateLimiter(cfg.Auth.MaxFailures, cfg.Auth.Lockout, cfg.Auth.FailureWindow, logger),
		vaultLimiter: auth.NewRateLimiter(cfg.Auth.MaxFailures, cfg.Auth.Lockout, cfg.Auth.FailureWindow, logger),
		sessions:     auth.NewSessionTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
		csrf:         token.New(csrfTTL),
		approvals:    newApprovalBroker(),
		prompts:      newPromptBroker(),
	}

	persistCtx, persistCancel := context.WithCancel(context.Background())
	g.persistCancel = persistCancel
	g.persistDone = make(chan struct{})
	go g.persistLoop(persistCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebSocket)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	g.registerAPIRoutes(mux)

	g.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming connections stay open
	}

	return g, nil
}

// Run starts the server and blocks until the context is cancelled, a
// termination signal arrives, or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		var err error
		if g.config.Server.CertFile != "" {
			g.logger.Info("listening with TLS", "addr", g.config.Server.ListenAddr)
			err = g.httpServer.ListenAndServeTLS(g.config.Server.CertFile, g.config.Server.KeyFile)
		} else {
			g.logger.Info("listening", "addr", g.config.Server.ListenAddr)
			err = g.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		g.logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		g.logger.Info("signal received, shutting down", "signal", sig.String())
	case err := <-errCh:
		g.logger.Error("server failed", "error", err)
		g.Shutdown()
		return err
	}

	return g.Shutdown()
}

// Shutdown stops the HTTP server, cancels all running execution units,
// locks the vault, and closes the store. Safe to call more than once.
func (g *Gateway) Shutdown() error {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		return nil
	}
	g.shutdown = true
	g.mu.Unlock()

	// A fresh context: the caller's may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = appendCloseError(errs, "http server", err)
	}
	g.registry.CancelAll()
	g.persistCancel()
	<-g.persistDone
	g.vault.Lock()
	if err := g.store.Close(); err != nil {
		errs = appendCloseError(errs, "store", err)
	}

	g.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func appendCloseError(errs []error, what string, err error) []error {
	return append(errs, fmt.Errorf("closing %s: %w", what, err))
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","agent":%q}`, agentName)
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready means the store answers. The vault may legitimately be locked.
	if _, err := g.store.ListSecrets(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"unavailable","error":%q}`, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","vault_locked":%t}`, g.vault.Locked())
}
