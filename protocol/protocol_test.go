package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTextOmitsData(t *testing.T) {
	f := File{
		Filename: "a.txt",
		Kind:     KindText,
		MIMEType: DefaultTextMIME,
		Size:     5,
		Text:     "hello",
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "text", raw["type"])
	assert.Equal(t, "hello", raw["content"])
	assert.NotContains(t, raw, "content_base64")
}

func TestFileBinaryEncodesBase64(t *testing.T) {
	f := File{
		Filename: "test.bin",
		Kind:     KindBinary,
		MIMEType: DefaultBinaryMIME,
		Size:     4,
		Data:     []byte{0x00, 0x01, 0x02, 0x03},
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content_base64":"AAECAw=="`)
	assert.NotContains(t, string(data), `"content":`)
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, 10485760, DefaultMaxReadBytes)
	assert.Equal(t, 1024, SniffBytes)
	assert.Equal(t, "main.py", DefaultFilename)
	assert.Equal(t, float64(300), DefaultExecTimeout.Seconds())
}
