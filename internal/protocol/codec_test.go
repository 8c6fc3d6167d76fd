// ABOUTME: Codec tests covering round-trips and strict rejection behavior.
// ABOUTME: Unknown kinds, truncation, and legacy text all fail loudly.

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRoundTrip(t *testing.T) {
	frames := []ClientFrame{
		NewClientFrame(&AuthResponse{Code: "123456"}),
		NewClientFrame(&Chat{Text: "hello", Media: []MediaRef{{ID: "m1", MimeType: "image/png"}}}),
		NewClientFrame(&Cancel{ThreadID: 0}),
		NewClientFrame(&Cancel{ThreadID: 42}),
		NewClientFrame(&SecretsStore{Name: "api-key", Value: "s3cret"}),
		NewClientFrame(&ThreadRename{ThreadID: 7, NewLabel: "research"}),
		NewClientFrame(&ThreadList{}),
		NewClientFrame(&UserPromptResponse{ID: "p1", Dismissed: true}),
	}
	for _, f := range frames {
		data, err := EncodeClient(f)
		require.NoError(t, err, "encoding %s", f.Kind)
		got, err := DecodeClient(data)
		require.NoError(t, err, "decoding %s", f.Kind)
		assert.Equal(t, f.Kind, got.Kind)
		assert.Equal(t, f.Payload, got.Payload)
	}
}

func TestServerRoundTrip(t *testing.T) {
	frames := []ServerFrame{
		NewServerFrame(&AuthChallenge{Method: "totp"}),
		NewServerFrame(&AuthResult{OK: true, Token: "jwt-here"}),
		NewServerFrame(&AuthLocked{Message: "too many failures", RetryAfterSecs: 30}),
		NewServerFrame(&Hello{Agent: "claw", VaultLocked: true, Provider: "anthropic", Model: "sonnet"}),
		NewServerFrame(&Status{Status: StatusModelReady, Detail: "ok"}),
		NewServerFrame(&Chunk{Delta: "partial text"}),
		NewServerFrame(&ToolCall{ID: "t1", Name: "bash", Arguments: `{"cmd":"ls"}`}),
		NewServerFrame(&ThreadsUpdate{
			Threads:      []ThreadInfo{{ID: 1, Label: "main"}},
			ForegroundID: 1,
		}),
		NewServerFrame(&ThreadSwitched{ThreadID: 3, ContextSummary: "prior work"}),
	}
	for _, f := range frames {
		data, err := EncodeServer(f)
		require.NoError(t, err, "encoding %s", f.Kind)
		got, err := DecodeServer(data)
		require.NoError(t, err, "decoding %s", f.Kind)
		assert.Equal(t, f.Kind, got.Kind)
		assert.Equal(t, f.Payload, got.Payload)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	f := NewServerFrame(&Hello{Agent: "claw", Provider: "anthropic", Model: "sonnet"})
	a, err := EncodeServer(f)
	require.NoError(t, err)
	b, err := EncodeServer(f)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeKindPayloadMismatch(t *testing.T) {
	f := ClientFrame{Kind: KindChat, Payload: &AuthResponse{Code: "x"}}
	_, err := EncodeClient(f)
	assert.ErrorIs(t, err, ErrBadPayload)

	sf := ServerFrame{Kind: KindHello, Payload: &Chunk{Delta: "x"}}
	_, err = EncodeServer(sf)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestEncodeNilPayload(t *testing.T) {
	_, err := EncodeClient(ClientFrame{Kind: KindChat})
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDecodeUnknownKind(t *testing.T) {
	data, err := encodeEnvelope(250, &struct{}{})
	require.NoError(t, err)

	_, err = DecodeClient(data)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), "250")

	_, err = DecodeServer(data)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeEmpty(t *testing.T) {
	_, err := DecodeClient(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
	_, err = DecodeServer([]byte{})
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDecodeTruncated(t *testing.T) {
	data, err := EncodeClient(NewClientFrame(&Chat{Text: "hello world"}))
	require.NoError(t, err)

	_, err = DecodeClient(data[:len(data)-3])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeTrailingGarbage(t *testing.T) {
	data, err := EncodeClient(NewClientFrame(&ThreadList{}))
	require.NoError(t, err)

	_, err = DecodeClient(append(data, 0x00))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeLegacyTextFrame(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"chat","text":"hi"}`))
	assert.ErrorIs(t, err, ErrLegacyFrame)

	_, err = DecodeClient([]byte("  \n\t{\"type\":\"auth\"}"))
	assert.ErrorIs(t, err, ErrLegacyFrame)

	_, err = DecodeServer([]byte(`{"type":"hello"}`))
	assert.ErrorIs(t, err, ErrLegacyFrame)
}

func TestDecodePayloadShapeMismatch(t *testing.T) {
	// Chat expects a map payload; hand it an integer instead.
	raw, err := encMode.Marshal(7)
	require.NoError(t, err)
	data, err := encMode.Marshal(envelope{Kind: uint8(KindChat), Payload: raw})
	require.NoError(t, err)

	_, err = DecodeClient(data)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestDecodeMissingPayload(t *testing.T) {
	data, err := encMode.Marshal(map[string]any{"t": uint8(KindChat)})
	require.NoError(t, err)

	_, err = DecodeClient(data)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestLooksLikeLegacyText(t *testing.T) {
	assert.True(t, LooksLikeLegacyText([]byte(`{"a":1}`)))
	assert.True(t, LooksLikeLegacyText([]byte("  {")))
	assert.False(t, LooksLikeLegacyText([]byte{0xa2, 0x61, 0x74}))
	assert.False(t, LooksLikeLegacyText(nil))

	valid, err := EncodeClient(NewClientFrame(&ThreadList{}))
	require.NoError(t, err)
	assert.False(t, LooksLikeLegacyText(valid), "binary frames must never classify as legacy")
}

func TestFrameOrderPreserved(t *testing.T) {
	// Stream three chunks and confirm decode order matches encode order.
	var wire [][]byte
	for _, delta := range []string{"a", "b", "c"} {
		data, err := EncodeServer(NewServerFrame(&Chunk{Delta: delta}))
		require.NoError(t, err)
		wire = append(wire, data)
	}
	var got []string
	for _, data := range wire {
		f, err := DecodeServer(data)
		require.NoError(t, err)
		got = append(got, f.Payload.(*Chunk).Delta)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
