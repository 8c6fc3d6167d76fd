// Package auth implements the connection authentication state machine for
// claw-gateway.
//
// # Handshake
//
// Each connection owns one SessionState. After the server sends Hello and
// AuthChallenge the state is ChallengeIssued; a correct code moves it to
// Authenticated. The vault stays locked until an UnlockVault frame with the
// correct password succeeds.
//
// # Gating
//
// SessionState.Gate runs before any frame side effect. Unauthenticated
// peers get a uniform "not authenticated" rejection regardless of frame
// kind, so the frame vocabulary is not leaked. Secrets and TOTP management
// frames additionally require an unlocked vault.
//
// # Lockout
//
// RateLimiter counts verification failures per remote IP across all
// connections. Exceeding the threshold locks the IP out for a fixed
// wall-clock window; reconnecting does not reset it. Auth codes and the
// vault password are different secrets, so they are tracked by separate
// limiter instances.
//
// # Session Tokens
//
// SessionTokens issues HS256-signed JWTs after a successful handshake.
// The HTTP API accepts them as bearer credentials:
//
//	tok, err := tokens.Issue(sessionID)
//	sessionID, err := tokens.Verify(tok)
package auth
