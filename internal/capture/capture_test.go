package capture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWellFormedEnvelopeWithNestedJSONBody(t *testing.T) {
	stdout := []byte(`{"status":200,"headers":{"Content-Type":"application/json"},"body":"{\"x\":1}"}`)

	env, _, ok := Parse(stdout)
	require.True(t, ok)
	require.Equal(t, 200, env.StatusCode)
	require.Equal(t, "application/json", env.Headers["Content-Type"])

	body, ok := env.Body.(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 1, body["x"])
}

func TestParsePlainStringBodyStaysAString(t *testing.T) {
	stdout := []byte(`{"status":200,"headers":{},"body":"hello world"}`)

	env, _, ok := Parse(stdout)
	require.True(t, ok)
	require.Equal(t, "hello world", env.Body)
}

func TestParseRejectsStatusOutOfRange(t *testing.T) {
	stdout := []byte(`{"status":999,"headers":{},"body":"x"}`)

	_, raw, ok := Parse(stdout)
	require.False(t, ok)
	require.Equal(t, string(stdout), raw.Text)
}

func TestParseFallsBackToRawOutputForNonJSON(t *testing.T) {
	stdout := []byte("hello from console.log\n")

	_, raw, ok := Parse(stdout)
	require.False(t, ok)
	require.Equal(t, string(stdout), raw.Text)
}

func TestParseFallsBackForJSONThatIsNotAnEnvelope(t *testing.T) {
	stdout := []byte(`{"hello":"world"}`)

	_, raw, ok := Parse(stdout)
	require.False(t, ok)
	require.Equal(t, string(stdout), raw.Text)
}

func TestParseTruncatesOversizedRawOutput(t *testing.T) {
	huge := strings.Repeat("a", maxPayloadBytes+100)

	_, raw, ok := Parse([]byte(huge))
	require.False(t, ok)
	require.True(t, strings.HasSuffix(raw.Text, truncationMarker))
	require.LessOrEqual(t, len(raw.Text), maxPayloadBytes+len(truncationMarker))
}

func TestParseBoundaryStatusCodes(t *testing.T) {
	_, _, ok := Parse([]byte(`{"status":100,"headers":{},"body":""}`))
	require.True(t, ok)

	_, _, ok = Parse([]byte(`{"status":599,"headers":{},"body":""}`))
	require.True(t, ok)

	_, _, ok = Parse([]byte(`{"status":99,"headers":{},"body":""}`))
	require.False(t, ok)

	_, _, ok = Parse([]byte(`{"status":600,"headers":{},"body":""}`))
	require.False(t, ok)
}
