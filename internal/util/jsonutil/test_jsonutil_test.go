package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Diagram string `json:"diagram"`
}

func TestMarshalNoEscapeKeepsArrows(t *testing.T) {
	raw, err := MarshalNoEscape(sample{Diagram: "graph TD; A-->B & C<--D"})
	require.NoError(t, err)
	assert.Equal(t, `{"diagram":"graph TD; A-->B & C<--D"}`, string(raw))
}

func TestUnmarshalFlex(t *testing.T) {
	var direct sample
	require.NoError(t, UnmarshalFlex([]byte(`{"diagram":"A-->B"}`), &direct))
	assert.Equal(t, "A-->B", direct.Diagram)

	twice, err := json.Marshal(`{"diagram":"A-->B"}`)
	require.NoError(t, err)
	var unwrapped sample
	require.NoError(t, UnmarshalFlex(twice, &unwrapped))
	assert.Equal(t, "A-->B", unwrapped.Diagram)

	var bad sample
	assert.Error(t, UnmarshalFlex([]byte(`{"diagram":`), &bad))
	assert.Error(t, UnmarshalFlex([]byte(`"not json inside"`), &bad))
}
