// ABOUTME: End-to-end WebSocket tests: handshake, auth lockout, vault gating.
// ABOUTME: Runs a real server over httptest with a scripted execution unit.

package gateway

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/claw-gateway/internal/config"
	"github.com/2389/claw-gateway/internal/model"
	"github.com/2389/claw-gateway/internal/protocol"
)

const testVaultPassword = "correct horse battery staple"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "gw.db")},
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret-test-secret-test-secret",
			MaxFailures:   3,
			Lockout:       60 * time.Second,
			FailureWindow: 30 * time.Second,
			TokenTTL:      time.Hour,
		},
		Vault:  config.VaultConfig{Password: testVaultPassword},
		Runner: config.RunnerConfig{Shell: "sh"},
	}
}

// testHarness is one gateway behind an httptest server plus a connected
// WebSocket client.
type testHarness struct {
	gw     *Gateway
	server *httptest.Server
	conn   *websocket.Conn
	ctx    context.Context
}

func newTestGateway(t *testing.T, runner model.Runner) *Gateway {
	t.Helper()
	gw, err := New(testConfig(t), runner, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { gw.Shutdown() })
	return gw
}

func dialGateway(t *testing.T, gw *Gateway) *testHarness {
	t.Helper()
	server := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	conn.SetReadLimit(1 << 20)

	return &testHarness{gw: gw, server: server, conn: conn, ctx: ctx}
}

func (h *testHarness) send(t *testing.T, p protocol.ClientPayload) {
	t.Helper()
	data, err := protocol.EncodeClient(protocol.NewClientFrame(p))
	require.NoError(t, err)
	require.NoError(t, h.conn.Write(h.ctx, websocket.MessageBinary, data))
}

func (h *testHarness) sendText(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.conn.Write(h.ctx, websocket.MessageText, []byte(text)))
}

func (h *testHarness) recv(t *testing.T) protocol.ServerFrame {
	t.Helper()
	_, data, err := h.conn.Read(h.ctx)
	require.NoError(t, err)
	f, err := protocol.DecodeServer(data)
	require.NoError(t, err)
	return f
}

// recvKind reads frames until one of the wanted kind arrives, skipping
// unrelated pushes like ThreadsUpdate.
func (h *testHarness) recvKind(t *testing.T, kind protocol.ServerKind) protocol.ServerFrame {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := h.recv(t)
		if f.Kind == kind {
			return f
		}
	}
	t.Fatalf("frame of kind %s never arrived", kind)
	return protocol.ServerFrame{}
}

// enrollTotp sets up a second factor and returns the shared secret.
func enrollTotp(t *testing.T, gw *Gateway) string {
	t.Helper()
	uri, err := gw.vault.SetupTotp(context.Background(), "test")
	require.NoError(t, err)
	parsed, err := url.Parse(uri)
	require.NoError(t, err)
	secret := parsed.Query().Get("secret")
	require.NotEmpty(t, secret)
	return secret
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

func TestHandshakeWithoutSecondFactor(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := dialGateway(t, gw)

	f := h.recv(t)
	require.Equal(t, protocol.KindHello, f.Kind)
	hello := f.Payload.(*protocol.Hello)
	assert.Equal(t, "claw-gateway", hello.Agent)
	assert.False(t, hello.VaultLocked)

	// No TOTP enrolled, so no challenge: the next frame is a status
	// notice and the connection is already usable.
	f = h.recv(t)
	require.Equal(t, protocol.KindStatus, f.Kind)
	assert.Equal(t, protocol.StatusCredentialsMissing, f.Payload.(*protocol.Status).Status)
}

func TestHandshakeIssuesChallenge(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	enrollTotp(t, gw)
	h := dialGateway(t, gw)

	require.Equal(t, protocol.KindHello, h.recv(t).Kind)
	f := h.recv(t)
	require.Equal(t, protocol.KindAuthChallenge, f.Kind)
	assert.Equal(t, "totp", f.Payload.(*protocol.AuthChallenge).Method)
}

func TestHandshakeLockedVaultWithEnrollment(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	enrollTotp(t, gw)
	gw.vault.Lock()
	h := dialGateway(t, gw)

	hello := h.recv(t)
	require.Equal(t, protocol.KindHello, hello.Kind)
	assert.True(t, hello.Payload.(*protocol.Hello).VaultLocked)

	// Enrolled second factor but no way to verify it: the session
	// must not be trusted, and must not be offered a challenge either.
	f := h.recv(t)
	require.Equal(t, protocol.KindStatus, f.Kind)
	assert.Equal(t, protocol.StatusVaultLocked, f.Payload.(*protocol.Status).Status)

	h.send(t, &protocol.Chat{Text: "hello"})
	f = h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "not authenticated")
	assert.Empty(t, gw.threads.All())
}

func TestFramesGatedBeforeAuth(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	enrollTotp(t, gw)
	h := dialGateway(t, gw)
	h.recvKind(t, protocol.KindAuthChallenge)

	h.send(t, &protocol.Chat{Text: "hello"})
	f := h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "not authenticated")

	// No thread was created as a side effect of the rejected frame.
	assert.Empty(t, gw.threads.All())
}

func TestAuthSuccessIssuesToken(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	secret := enrollTotp(t, gw)
	h := dialGateway(t, gw)
	h.recvKind(t, protocol.KindAuthChallenge)

	h.send(t, &protocol.AuthResponse{Code: totpCode(t, secret)})
	f := h.recvKind(t, protocol.KindAuthResult)
	result := f.Payload.(*protocol.AuthResult)
	require.True(t, result.OK)
	require.NotEmpty(t, result.Token)

	// The token is the one the HTTP API accepts.
	_, err := gw.sessions.Verify(result.Token)
	assert.NoError(t, err)
}

func TestAuthLockoutAfterRepeatedFailures(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	secret := enrollTotp(t, gw)
	h := dialGateway(t, gw)
	h.recvKind(t, protocol.KindAuthChallenge)

	// Two wrong codes get a retryable rejection.
	for i := 0; i < 2; i++ {
		h.send(t, &protocol.AuthResponse{Code: "000000"})
		f := h.recvKind(t, protocol.KindAuthResult)
		result := f.Payload.(*protocol.AuthResult)
		assert.False(t, result.OK)
		assert.True(t, result.Retry)
	}

	// The third failure trips the lockout.
	h.send(t, &protocol.AuthResponse{Code: "000000"})
	f := h.recvKind(t, protocol.KindAuthLocked)
	locked := f.Payload.(*protocol.AuthLocked)
	assert.NotZero(t, locked.RetryAfterSecs)

	// Even the correct code is rejected while locked out.
	h.send(t, &protocol.AuthResponse{Code: totpCode(t, secret)})
	f = h.recvKind(t, protocol.KindAuthLocked)
	assert.NotZero(t, f.Payload.(*protocol.AuthLocked).RetryAfterSecs)
}

func TestVaultGateAndUnlock(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := dialGateway(t, gw)
	h.recvKind(t, protocol.KindStatus)

	// Authenticated but the session has not unlocked the vault.
	h.send(t, &protocol.SecretsList{})
	f := h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "vault is locked")

	h.send(t, &protocol.UnlockVault{Password: "wrong"})
	f = h.recvKind(t, protocol.KindVaultUnlocked)
	assert.False(t, f.Payload.(*protocol.VaultUnlocked).OK)

	h.send(t, &protocol.UnlockVault{Password: testVaultPassword})
	f = h.recvKind(t, protocol.KindVaultUnlocked)
	require.True(t, f.Payload.(*protocol.VaultUnlocked).OK)
	f = h.recvKind(t, protocol.KindStatus)
	assert.Equal(t, protocol.StatusCredentialsLoaded, f.Payload.(*protocol.Status).Status)

	h.send(t, &protocol.SecretsList{})
	f = h.recvKind(t, protocol.KindSecretsListResult)
	assert.True(t, f.Payload.(*protocol.SecretsListResult).OK)
}

func TestSecretsRoundTripOverWire(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := dialGateway(t, gw)
	h.recvKind(t, protocol.KindStatus)
	h.send(t, &protocol.UnlockVault{Password: testVaultPassword})
	h.recvKind(t, protocol.KindVaultUnlocked)

	h.send(t, &protocol.SecretsStore{Name: "api-key", Value: "hunter2", Policy: "always"})
	f := h.recvKind(t, protocol.KindSecretsStoreResult)
	require.True(t, f.Payload.(*protocol.SecretsStoreResult).OK)

	h.send(t, &protocol.SecretsGet{Name: "api-key"})
	f = h.recvKind(t, protocol.KindSecretsGetResult)
	result := f.Payload.(*protocol.SecretsGetResult)
	require.True(t, result.OK)
	assert.Equal(t, "hunter2", result.Value)

	// Disabled credentials stay listed but stop resolving.
	h.send(t, &protocol.SecretsSetDisabled{Name: "api-key", Disabled: true})
	h.recvKind(t, protocol.KindSecretsSetDisabledResult)

	h.send(t, &protocol.SecretsGet{Name: "api-key"})
	f = h.recvKind(t, protocol.KindSecretsGetResult)
	result = f.Payload.(*protocol.SecretsGetResult)
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "disabled")

	h.send(t, &protocol.SecretsList{})
	f = h.recvKind(t, protocol.KindSecretsListResult)
	list := f.Payload.(*protocol.SecretsListResult)
	require.Len(t, list.Entries, 1)
	assert.True(t, list.Entries[0].Disabled)

	// Peek bypasses the disabled flag.
	h.send(t, &protocol.SecretsPeek{Name: "api-key"})
	f = h.recvKind(t, protocol.KindSecretsPeekResult)
	peek := f.Payload.(*protocol.SecretsPeekResult)
	require.True(t, peek.OK)
	require.Len(t, peek.Fields, 1)
	assert.Equal(t, "hunter2", peek.Fields[0].Value)
}

func TestUnknownFrameKindClosesConnection(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := dialGateway(t, gw)
	h.recvKind(t, protocol.KindStatus)

	// Hand-rolled envelope with an unassigned kind number.
	raw := []byte{0xa2, 0x61, 't', 0x18, 0xc8, 0x61, 'p', 0xa0}
	require.NoError(t, h.conn.Write(h.ctx, websocket.MessageBinary, raw))

	f := h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "malformed frame")

	// The server closed the socket after the protocol error.
	_, _, err := h.conn.Read(h.ctx)
	require.Error(t, err)
}

func TestBadPayloadClosesConnection(t *testing.T) {
	gw := newTestGateway(t, model.NewScriptedRunner())
	h := dialGateway(t, gw)
	h.recvKind(t, protocol.KindStatus)

	// Valid kind, but the payload is a bare integer instead of a map.
	raw := []byte{0xa2, 0x61, 't', 0x10, 0x61, 'p', 0x07}
	require.NoError(t, h.conn.Write(h.ctx, websocket.MessageBinary, raw))

	f := h.recvKind(t, protocol.KindError)
	assert.Contains(t, f.Payload.(*protocol.ErrorFrame).Message, "malformed frame")

	_, _, err := h.conn.Read(h.ctx)
	require.Error(t, err)
}
