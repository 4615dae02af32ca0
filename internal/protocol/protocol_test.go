package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewRequest(NewIntID(1), "initialize", InitializeParams{ClientInfo: ClientInfo{Name: "host", Version: "1.0"}})
	require.NoError(t, err)
	require.True(t, env.IsRequest())

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteEnvelope(env))

	r := NewReader(&buf)
	line, err := r.ReadLine()
	require.NoError(t, err)

	parsed, err := ParseEnvelope(line)
	require.NoError(t, err)
	require.Equal(t, "initialize", parsed.Method)
	require.True(t, parsed.IsRequest())
}

func TestParseEnvelope_RejectsOversizedFrame(t *testing.T) {
	big := make([]byte, MaxFrameSize+10)
	for i := range big {
		big[i] = 'a'
	}
	_, err := ParseEnvelope(big)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32700, rpcErr.Code)
}

// TestReader_OversizedFrameRecovers exercises the Reader.ReadLine path
// directly (not just ParseEnvelope): an over-limit line must be reported as
// ErrFrameTooLong without killing the Reader, so the next, well-formed line
// still reads successfully.
func TestReader_OversizedFrameRecovers(t *testing.T) {
	big := bytes.Repeat([]byte{'a'}, MaxFrameSize+10)
	var buf bytes.Buffer
	buf.Write(big)
	buf.WriteByte('\n')
	buf.WriteString(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	buf.WriteByte('\n')

	r := NewReader(&buf)

	_, err := r.ReadLine()
	require.ErrorIs(t, err, ErrFrameTooLong)

	line, err := r.ReadLine()
	require.NoError(t, err)
	env, err := ParseEnvelope(line)
	require.NoError(t, err)
	require.Equal(t, "ping", env.Method)

	_, err = r.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestParseEnvelope_RejectsEmbeddedNUL(t *testing.T) {
	line := []byte(`{"jsonrpc":"2.0","method":"x` + "\x00" + `"}`)
	_, err := ParseEnvelope(line)
	require.Error(t, err)
}

func TestParseEnvelope_MalformedJSON(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{not json`))
	require.Error(t, err)
}

func TestNotificationHasNoID(t *testing.T) {
	env, err := NewNotification("log", map[string]string{"msg": "hi"})
	require.NoError(t, err)
	require.True(t, env.IsNotification())
	require.False(t, env.IsRequest())
}
