// ABOUTME: Encrypted secrets vault with per-credential access policies.
// ABOUTME: Values are sealed at rest; the sealing key exists only while unlocked.

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/claw-gateway/internal/store"
)

// Vault errors.
var (
	ErrLocked       = errors.New("vault is locked")
	ErrBadPassword  = errors.New("wrong vault password")
	ErrNotFound     = errors.New("credential not found")
	ErrDisabled     = errors.New("credential is disabled")
	ErrAccessDenied = errors.New("access denied by credential policy")
	ErrNoTotp       = errors.New("no TOTP secret configured")
)

// Vault metadata keys.
const (
	metaSalt  = "kdf_salt"
	metaCheck = "check_value"
	metaNonce = "check_nonce"
)

// checkCanary is sealed at initialization; opening it proves the password.
const checkCanary = "claw-gateway-vault-v1"

// totpSecretName is the reserved record name holding the TOTP shared
// secret. Reserved names are hidden from List.
const totpSecretName = "__totp_secret"

// Policy controls when the agent may read a credential.
type Policy string

const (
	// PolicyAlways allows reads at any time without prompting.
	PolicyAlways Policy = "always"
	// PolicyAsk requires explicit per-use user approval.
	PolicyAsk Policy = "ask"
	// PolicyAuth requires re-authentication before each access.
	PolicyAuth Policy = "auth"
	// PolicySkill allows reads only while a named skill is executing.
	PolicySkill Policy = "skill"
)

// ParsePolicy maps a wire string to a Policy. Unknown strings fall back
// to PolicyAsk, the safe default.
func ParsePolicy(s string) Policy {
	switch Policy(strings.ToLower(s)) {
	case PolicyAlways, PolicyAsk, PolicyAuth, PolicySkill:
		return Policy(strings.ToLower(s))
	default:
		return PolicyAsk
	}
}

// AccessContext describes the caller's standing when requesting a
// credential. The vault evaluates it against the credential's Policy.
type AccessContext struct {
	// UserApproved means the user explicitly approved this access.
	UserApproved bool
	// Authenticated means the caller re-verified the vault password or
	// TOTP within this request.
	Authenticated bool
	// ActiveSkill names the skill currently executing, if any.
	ActiveSkill string
}

// Credential is the metadata for one vault entry, without its value.
type Credential struct {
	Name      string
	Policy    Policy
	Skills    []string
	Disabled  bool
	UpdatedAt time.Time
}

// Vault seals credential values with a key derived from the vault
// password. The key is held in memory only between Unlock and Lock.
type Vault struct {
	mu     sync.Mutex
	store  store.Store
	key    []byte
	logger *slog.Logger
}

// New creates a vault over the given store. The vault starts locked.
func New(st store.Store, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		store:  st,
		logger: logger.With("component", "vault"),
	}
}

// Unlock derives the sealing key from password and verifies it against
// the stored check value. A vault that has never been initialized is
// initialized with this password.
func (v *Vault) Unlock(ctx context.Context, password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	salt, err := v.store.GetMeta(ctx, metaSalt)
	if errors.Is(err, store.ErrNotFound) {
		return v.initializeLocked(ctx, password)
	}
	if err != nil {
		return fmt.Errorf("loading vault salt: %w", err)
	}

	key := deriveKey(password, salt)

	check, err := v.store.GetMeta(ctx, metaCheck)
	if err != nil {
		return fmt.Errorf("loading vault check value: %w", err)
	}
	nonce, err := v.store.GetMeta(ctx, metaNonce)
	if err != nil {
		return fmt.Errorf("loading vault check nonce: %w", err)
	}
	if _, err := open(key, check, nonce); err != nil {
		v.logger.Warn("vault unlock failed")
		return ErrBadPassword
	}

	v.key = key
	v.logger.Info("vault unlocked")
	return nil
}

// initializeLocked sets up a fresh vault under the given password.
// Caller holds v.mu.
func (v *Vault) initializeLocked(ctx context.Context, password string) error {
	salt, err := newSalt()
	if err != nil {
		return err
	}
	key := deriveKey(password, salt)

	check, nonce, err := seal(key, []byte(checkCanary))
	if err != nil {
		return err
	}
	if err := v.store.SetMeta(ctx, metaSalt, salt); err != nil {
		return fmt.Errorf("saving vault salt: %w", err)
	}
	if err := v.store.SetMeta(ctx, metaCheck, check); err != nil {
		return fmt.Errorf("saving vault check value: %w", err)
	}
	if err := v.store.SetMeta(ctx, metaNonce, nonce); err != nil {
		return fmt.Errorf("saving vault check nonce: %w", err)
	}

	v.key = key
	v.logger.Info("vault initialized")
	return nil
}

// Lock discards the sealing key.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = nil
	v.logger.Info("vault locked")
}

// Locked reports whether the vault is currently locked.
func (v *Vault) Locked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key == nil
}

// List returns metadata for every credential, sorted by name. Reserved
// internal entries are excluded.
func (v *Vault) List(ctx context.Context) ([]Credential, error) {
	recs, err := v.store.ListSecrets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Credential, 0, len(recs))
	for _, rec := range recs {
		if strings.HasPrefix(rec.Name, "__") {
			continue
		}
		out = append(out, Credential{
			Name:      rec.Name,
			Policy:    Policy(rec.Policy),
			Skills:    rec.Skills,
			Disabled:  rec.Disabled,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return out, nil
}

// Get decrypts a credential's value after checking the disabled flag and
// the access policy against actx.
func (v *Vault) Get(ctx context.Context, name string, actx AccessContext) (string, error) {
	rec, key, err := v.load(ctx, name)
	if err != nil {
		return "", err
	}
	if rec.Disabled {
		return "", fmt.Errorf("%w: %s", ErrDisabled, name)
	}
	if !policyAllows(Policy(rec.Policy), rec.Skills, actx) {
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, name)
	}
	plaintext, err := open(key, rec.Value, rec.Nonce)
	if err != nil {
		return "", fmt.Errorf("opening credential %q: %w", name, err)
	}
	return string(plaintext), nil
}

// Peek decrypts a credential's value bypassing the disabled flag and the
// access policy. Reserved for the physically present user.
func (v *Vault) Peek(ctx context.Context, name string) (string, error) {
	rec, key, err := v.load(ctx, name)
	if err != nil {
		return "", err
	}
	plaintext, err := open(key, rec.Value, rec.Nonce)
	if err != nil {
		return "", fmt.Errorf("opening credential %q: %w", name, err)
	}
	return string(plaintext), nil
}

// Store seals and saves a credential, replacing any existing entry with
// the same name.
func (v *Vault) Store(ctx context.Context, name, value string, policy Policy, skills []string) error {
	v.mu.Lock()
	key := v.key
	v.mu.Unlock()
	if key == nil {
		return ErrLocked
	}

	ciphertext, nonce, err := seal(key, []byte(value))
	if err != nil {
		return err
	}
	rec := &store.SecretRecord{
		Name:   name,
		Value:  ciphertext,
		Nonce:  nonce,
		Policy: string(policy),
		Skills: skills,
	}
	if err := v.store.PutSecret(ctx, rec); err != nil {
		return fmt.Errorf("saving credential %q: %w", name, err)
	}
	v.logger.Info("stored credential", "name", name, "policy", policy)
	return nil
}

// Delete removes a credential by name.
func (v *Vault) Delete(ctx context.Context, name string) error {
	if v.Locked() {
		return ErrLocked
	}
	err := v.store.DeleteSecret(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return err
	}
	v.logger.Info("deleted credential", "name", name)
	return nil
}

// SetPolicy updates a credential's access policy in place.
func (v *Vault) SetPolicy(ctx context.Context, name string, policy Policy, skills []string) error {
	return v.updateMeta(ctx, name, func(rec *store.SecretRecord) {
		rec.Policy = string(policy)
		rec.Skills = skills
	})
}

// SetDisabled toggles whether the agent may read a credential. The entry
// stays listed either way.
func (v *Vault) SetDisabled(ctx context.Context, name string, disabled bool) error {
	return v.updateMeta(ctx, name, func(rec *store.SecretRecord) {
		rec.Disabled = disabled
	})
}

func (v *Vault) updateMeta(ctx context.Context, name string, mutate func(*store.SecretRecord)) error {
	if v.Locked() {
		return ErrLocked
	}
	rec, err := v.store.GetSecret(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return err
	}
	mutate(rec)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return v.store.PutSecret(ctx, rec)
}

// load fetches one record and the current sealing key, mapping absence
// and lock state to vault errors.
func (v *Vault) load(ctx context.Context, name string) (*store.SecretRecord, []byte, error) {
	v.mu.Lock()
	key := v.key
	v.mu.Unlock()
	if key == nil {
		return nil, nil, ErrLocked
	}
	rec, err := v.store.GetSecret(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, nil, err
	}
	return rec, key, nil
}

func policyAllows(policy Policy, skills []string, actx AccessContext) bool {
	switch policy {
	case PolicyAlways:
		return true
	case PolicyAsk:
		return actx.UserApproved
	case PolicyAuth:
		return actx.Authenticated
	case PolicySkill:
		if actx.ActiveSkill == "" {
			return false
		}
		for _, s := range skills {
			if s == actx.ActiveSkill {
				return true
			}
		}
		return false
	default:
		return false
	}
}
