// ABOUTME: Storage types and the Store interface for gateway persistence.
// ABOUTME: Secrets are stored as ciphertext; this layer never sees plaintext.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("not found")

// SecretRecord is one vault entry at rest. Value is ciphertext sealed by
// the vault layer; Nonce is the seal nonce.
type SecretRecord struct {
	Name      string
	Value     []byte
	Nonce     []byte
	Policy    string
	Skills    []string
	Disabled  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ThreadSnapshot is the persisted shape of a thread for restart recovery.
type ThreadSnapshot struct {
	ThreadID  uint64
	Kind      string
	Label     string
	Status    string
	ParentID  uint64
	UpdatedAt time.Time
}

// TaskAudit is one appended task transition for the audit trail.
type TaskAudit struct {
	TaskID    uint64
	Event     string
	Before    string
	After     string
	Detail    string
	Timestamp time.Time
}

// Store is the persistence interface the gateway depends on.
type Store interface {
	// Secrets.
	PutSecret(ctx context.Context, rec *SecretRecord) error
	GetSecret(ctx context.Context, name string) (*SecretRecord, error)
	ListSecrets(ctx context.Context) ([]*SecretRecord, error)
	DeleteSecret(ctx context.Context, name string) error

	// Vault metadata (KDF salt, password verifier, sealed TOTP secret).
	GetMeta(ctx context.Context, key string) ([]byte, error)
	SetMeta(ctx context.Context, key string, value []byte) error
	DeleteMeta(ctx context.Context, key string) error

	// Thread snapshots.
	UpsertThreadSnapshot(ctx context.Context, snap *ThreadSnapshot) error
	ListThreadSnapshots(ctx context.Context) ([]*ThreadSnapshot, error)
	DeleteThreadSnapshot(ctx context.Context, threadID uint64) error

	// Task audit trail.
	AppendTaskAudit(ctx context.Context, audit *TaskAudit) error
	ListTaskAudit(ctx context.Context, taskID uint64) ([]*TaskAudit, error)

	Close() error
}
