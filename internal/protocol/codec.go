// ABOUTME: CBOR codec for protocol frames with strict unknown-kind rejection.
// ABOUTME: One wire representation; legacy JSON text frames get a distinct error.

package protocol

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/fxamacker/cbor/v2"
)

// Codec errors. ErrUnknownKind and ErrBadPayload wrap the offending kind
// number so callers can log a precise diagnostic.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownKind    = errors.New("unknown frame kind")
	ErrBadPayload     = errors.New("payload does not match frame kind")
	ErrEmptyFrame     = errors.New("empty frame")

	// ErrLegacyFrame marks input that looks like the retired JSON text
	// representation. Distinct from ErrMalformedFrame so the connection
	// can log a version mismatch instead of a generic parse failure.
	ErrLegacyFrame = errors.New("legacy text frame")
)

// encMode uses Core Deterministic Encoding so the same frame always
// produces identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope is the wire shape of every frame: a kind number and the raw
// payload bytes. Payload decoding is deferred until the kind is known.
type envelope struct {
	Kind    uint8           `cbor:"t"`
	Payload cbor.RawMessage `cbor:"p"`
}

// clientPayloads maps each client kind to a constructor for its payload
// type. A kind absent from this table does not exist on the wire.
var clientPayloads = map[ClientKind]func() ClientPayload{
	KindAuthResponse:            func() ClientPayload { return &AuthResponse{} },
	KindUnlockVault:             func() ClientPayload { return &UnlockVault{} },
	KindSecretsList:             func() ClientPayload { return &SecretsList{} },
	KindSecretsGet:              func() ClientPayload { return &SecretsGet{} },
	KindSecretsStore:            func() ClientPayload { return &SecretsStore{} },
	KindSecretsDelete:           func() ClientPayload { return &SecretsDelete{} },
	KindSecretsPeek:             func() ClientPayload { return &SecretsPeek{} },
	KindSecretsSetPolicy:        func() ClientPayload { return &SecretsSetPolicy{} },
	KindSecretsSetDisabled:      func() ClientPayload { return &SecretsSetDisabled{} },
	KindSecretsDeleteCredential: func() ClientPayload { return &SecretsDeleteCredential{} },
	KindSecretsHasTotp:          func() ClientPayload { return &SecretsHasTotp{} },
	KindSecretsSetupTotp:        func() ClientPayload { return &SecretsSetupTotp{} },
	KindSecretsVerifyTotp:       func() ClientPayload { return &SecretsVerifyTotp{} },
	KindSecretsRemoveTotp:       func() ClientPayload { return &SecretsRemoveTotp{} },
	KindReload:                  func() ClientPayload { return &Reload{} },
	KindCancel:                  func() ClientPayload { return &Cancel{} },
	KindChat:                    func() ClientPayload { return &Chat{} },
	KindToolApprovalResponse:    func() ClientPayload { return &ToolApprovalResponse{} },
	KindUserPromptResponse:      func() ClientPayload { return &UserPromptResponse{} },
	KindTasksRequest:            func() ClientPayload { return &TasksRequest{} },
	KindThreadCreate:            func() ClientPayload { return &ThreadCreate{} },
	KindThreadSwitch:            func() ClientPayload { return &ThreadSwitch{} },
	KindThreadList:              func() ClientPayload { return &ThreadList{} },
	KindThreadClose:             func() ClientPayload { return &ThreadClose{} },
	KindThreadRename:            func() ClientPayload { return &ThreadRename{} },
}

var serverPayloads = map[ServerKind]func() ServerPayload{
	KindAuthChallenge:                 func() ServerPayload { return &AuthChallenge{} },
	KindAuthResult:                    func() ServerPayload { return &AuthResult{} },
	KindAuthLocked:                    func() ServerPayload { return &AuthLocked{} },
	KindHello:                         func() ServerPayload { return &Hello{} },
	KindStatus:                        func() ServerPayload { return &Status{} },
	KindVaultUnlocked:                 func() ServerPayload { return &VaultUnlocked{} },
	KindSecretsListResult:             func() ServerPayload { return &SecretsListResult{} },
	KindSecretsStoreResult:            func() ServerPayload { return &SecretsStoreResult{} },
	KindSecretsGetResult:              func() ServerPayload { return &SecretsGetResult{} },
	KindSecretsDeleteResult:           func() ServerPayload { return &SecretsDeleteResult{} },
	KindSecretsPeekResult:             func() ServerPayload { return &SecretsPeekResult{} },
	KindSecretsSetPolicyResult:        func() ServerPayload { return &SecretsSetPolicyResult{} },
	KindSecretsSetDisabledResult:      func() ServerPayload { return &SecretsSetDisabledResult{} },
	KindSecretsDeleteCredentialResult: func() ServerPayload { return &SecretsDeleteCredentialResult{} },
	KindSecretsHasTotpResult:          func() ServerPayload { return &SecretsHasTotpResult{} },
	KindSecretsSetupTotpResult:        func() ServerPayload { return &SecretsSetupTotpResult{} },
	KindSecretsVerifyTotpResult:       func() ServerPayload { return &SecretsVerifyTotpResult{} },
	KindSecretsRemoveTotpResult:       func() ServerPayload { return &SecretsRemoveTotpResult{} },
	KindReloadResult:                  func() ServerPayload { return &ReloadResult{} },
	KindError:                         func() ServerPayload { return &ErrorFrame{} },
	KindInfo:                          func() ServerPayload { return &Info{} },
	KindStreamStart:                   func() ServerPayload { return &StreamStart{} },
	KindChunk:                         func() ServerPayload { return &Chunk{} },
	KindThinkingStart:                 func() ServerPayload { return &ThinkingStart{} },
	KindThinkingDelta:                 func() ServerPayload { return &ThinkingDelta{} },
	KindThinkingEnd:                   func() ServerPayload { return &ThinkingEnd{} },
	KindToolCall:                      func() ServerPayload { return &ToolCall{} },
	KindToolResult:                    func() ServerPayload { return &ToolResult{} },
	KindResponseDone:                  func() ServerPayload { return &ResponseDone{} },
	KindToolApprovalRequest:           func() ServerPayload { return &ToolApprovalRequest{} },
	KindUserPromptRequest:             func() ServerPayload { return &UserPromptRequest{} },
	KindTasksUpdate:                   func() ServerPayload { return &TasksUpdate{} },
	KindThreadsUpdate:                 func() ServerPayload { return &ThreadsUpdate{} },
	KindThreadCreated:                 func() ServerPayload { return &ThreadCreated{} },
	KindThreadSwitched:                func() ServerPayload { return &ThreadSwitched{} },
}

// EncodeClient serializes a client frame. The frame's kind must match the
// payload's canonical kind.
func EncodeClient(f ClientFrame) ([]byte, error) {
	if f.Payload == nil {
		return nil, ErrEmptyFrame
	}
	if f.Kind != f.Payload.clientKind() {
		return nil, fmt.Errorf("%w: kind %d carries %T", ErrBadPayload, f.Kind, f.Payload)
	}
	return encodeEnvelope(uint8(f.Kind), f.Payload)
}

// EncodeServer serializes a server frame.
func EncodeServer(f ServerFrame) ([]byte, error) {
	if f.Payload == nil {
		return nil, ErrEmptyFrame
	}
	if f.Kind != f.Payload.serverKind() {
		return nil, fmt.Errorf("%w: kind %d carries %T", ErrBadPayload, f.Kind, f.Payload)
	}
	return encodeEnvelope(uint8(f.Kind), f.Payload)
}

func encodeEnvelope(kind uint8, payload any) ([]byte, error) {
	raw, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return encMode.Marshal(envelope{Kind: kind, Payload: raw})
}

// DecodeClient parses one client frame from wire bytes. Truncated input,
// unknown kind numbers, and payload shape mismatches are all rejected;
// nothing is silently defaulted.
func DecodeClient(data []byte) (ClientFrame, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return ClientFrame{}, err
	}
	mk, ok := clientPayloads[ClientKind(env.Kind)]
	if !ok {
		return ClientFrame{}, fmt.Errorf("%w: %d", ErrUnknownKind, env.Kind)
	}
	payload := mk()
	if err := decodePayload(env.Payload, payload); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: kind %s: %v", ErrBadPayload, ClientKind(env.Kind), err)
	}
	return ClientFrame{Kind: ClientKind(env.Kind), Payload: payload}, nil
}

// DecodeServer parses one server frame from wire bytes.
func DecodeServer(data []byte) (ServerFrame, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return ServerFrame{}, err
	}
	mk, ok := serverPayloads[ServerKind(env.Kind)]
	if !ok {
		return ServerFrame{}, fmt.Errorf("%w: %d", ErrUnknownKind, env.Kind)
	}
	payload := mk()
	if err := decodePayload(env.Payload, payload); err != nil {
		return ServerFrame{}, fmt.Errorf("%w: kind %s: %v", ErrBadPayload, ServerKind(env.Kind), err)
	}
	return ServerFrame{Kind: ServerKind(env.Kind), Payload: payload}, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	if len(data) == 0 {
		return envelope{}, ErrEmptyFrame
	}
	if LooksLikeLegacyText(data) {
		return envelope{}, ErrLegacyFrame
	}
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(env.Payload) == 0 {
		return envelope{}, fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}
	return env, nil
}

func decodePayload(raw cbor.RawMessage, dst any) error {
	return decMode.Unmarshal(raw, dst)
}

// LooksLikeLegacyText reports whether data appears to be the retired
// JSON text representation rather than a binary frame. The old format
// always started with '{' (optionally after whitespace).
func LooksLikeLegacyText(data []byte) bool {
	for _, b := range data {
		if b < 0x80 && unicode.IsSpace(rune(b)) {
			continue
		}
		return b == '{'
	}
	return false
}
