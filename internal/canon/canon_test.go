package canon

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/afipws/internal/model"
)

func TestEncode(t *testing.T) {
	input := map[string]any{
		"b": 1,
		"a": "ImpTotal <> ImpNeto & ImpIVA",
		"c": []int{2, 1, 3},
		"d": map[string]any{"y": "foo", "x": "bar"},
	}

	encoded, err := Encode(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"ImpTotal <> ImpNeto & ImpIVA","b":1,"c":[2,1,3],"d":{"x":"bar","y":"foo"}}`, string(encoded))
}

func TestWriteIndented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIndented(&buf, model.Message{Code: 10048, Message: "a < b"}))
	assert.Equal(t, "{\n  \"code\": 10048,\n  \"message\": \"a < b\"\n}\n", buf.String())
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := Encode(make(chan int))
	assert.Error(t, err)
}
