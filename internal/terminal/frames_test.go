package terminal

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	f := parseFrame([]byte(`{"type":"resize","cols":120,"rows":40}`))
	require.NotNil(t, f)
	assert.Equal(t, FrameResize, f.Type)
	assert.Equal(t, 120, f.Cols)
	assert.Equal(t, 40, f.Rows)

	assert.Nil(t, parseFrame([]byte(`{not json`)))
	assert.Nil(t, parseFrame(nil))

	// Unknown types parse fine; the relay ignores them by type.
	f = parseFrame([]byte(`{"type":"telemetry"}`))
	require.NotNil(t, f)
	assert.Equal(t, "telemetry", f.Type)
}

func TestFrame_Base64RoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x1b, '[', 'A', 0xff, 0xfe, '\n'}

	frame := Frame{Type: FrameOutput, Data: base64.StdEncoding.EncodeToString(payload)}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	parsed := parseFrame(raw)
	require.NotNil(t, parsed)
	decoded, err := base64.StdEncoding.DecodeString(parsed.Data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}
