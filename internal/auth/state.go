// ABOUTME: Per-connection authentication and vault state machine.
// ABOUTME: Gates every frame kind before any side effect runs.

package auth

import (
	"errors"
	"time"

	"github.com/2389/claw-gateway/internal/protocol"
)

// Gate errors. ErrNotAuthenticated is deliberately generic so an
// unauthenticated peer learns nothing about which frame kinds exist.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrVaultLocked      = errors.New("vault is locked")
	ErrBadState         = errors.New("frame not valid in current state")
)

// Stage is the authentication progress of one connection.
type Stage uint8

const (
	StageUnauthenticated Stage = iota
	StageChallengeIssued
	StageAuthenticated
)

func (s Stage) String() string {
	switch s {
	case StageUnauthenticated:
		return "unauthenticated"
	case StageChallengeIssued:
		return "challenge_issued"
	case StageAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// SessionState is owned exclusively by one connection handler. Only the
// connection loop mutates it; spawned work never touches it.
type SessionState struct {
	Stage          Stage
	VaultUnlocked  bool
	FailedAttempts uint32
	LockoutUntil   time.Time
	RemoteIP       string
}

// NewSessionState returns the state for a freshly accepted connection.
func NewSessionState(remoteIP string) *SessionState {
	return &SessionState{Stage: StageUnauthenticated, RemoteIP: remoteIP}
}

// IssueChallenge records that the server sent an AuthChallenge.
func (s *SessionState) IssueChallenge() {
	s.Stage = StageChallengeIssued
}

// Authenticate marks the connection authenticated and resets the failure
// counter.
func (s *SessionState) Authenticate() {
	s.Stage = StageAuthenticated
	s.FailedAttempts = 0
	s.LockoutUntil = time.Time{}
}

// RecordFailure counts a wrong auth code on this connection.
func (s *SessionState) RecordFailure() {
	s.FailedAttempts++
}

// UnlockVault records a successful vault unlock.
func (s *SessionState) UnlockVault() {
	s.VaultUnlocked = true
}

// LockVault marks the vault locked again, e.g. after a reload.
func (s *SessionState) LockVault() {
	s.VaultUnlocked = false
}

// vaultGated holds the frame kinds that require an unlocked vault in
// addition to authentication.
var vaultGated = map[protocol.ClientKind]bool{
	protocol.KindSecretsList:             true,
	protocol.KindSecretsGet:              true,
	protocol.KindSecretsStore:            true,
	protocol.KindSecretsDelete:           true,
	protocol.KindSecretsPeek:             true,
	protocol.KindSecretsSetPolicy:        true,
	protocol.KindSecretsSetDisabled:      true,
	protocol.KindSecretsDeleteCredential: true,
	protocol.KindSecretsSetupTotp:        true,
	protocol.KindSecretsVerifyTotp:       true,
	protocol.KindSecretsRemoveTotp:       true,
}

// Gate decides whether a frame kind may be processed in the current state.
// It must be called before any side effect, including token issuance or
// reading secret material. The zero return means the frame may proceed.
func (s *SessionState) Gate(kind protocol.ClientKind) error {
	if s.Stage != StageAuthenticated {
		// During the handshake only AuthResponse is meaningful. Everything
		// else gets the same generic rejection.
		if kind == protocol.KindAuthResponse {
			if s.Stage != StageChallengeIssued {
				return ErrBadState
			}
			return nil
		}
		return ErrNotAuthenticated
	}

	switch kind {
	case protocol.KindAuthResponse:
		// Already authenticated; a second response is a state error.
		return ErrBadState
	case protocol.KindUnlockVault, protocol.KindSecretsHasTotp:
		// Allowed while the vault is still locked.
		return nil
	}
	if vaultGated[kind] && !s.VaultUnlocked {
		return ErrVaultLocked
	}
	return nil
}
