package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manifest struct {
	ID      string            `json:"id"`
	Radius  float64           `json:"radius_m"`
	Columns map[string]string `json:"columns"`
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		c, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)
}

func TestCodecsInterchangeable(t *testing.T) {
	in := manifest{ID: "r1", Radius: 500000, Columns: map[string]string{"values": "runs/r1/values.col"}}

	for _, enc := range []Codec{JSON{}, GoJSON{}} {
		data, err := enc.Marshal(in)
		require.NoError(t, err)
		for _, dec := range []Codec{JSON{}, GoJSON{}} {
			var out manifest
			require.NoError(t, dec.Unmarshal(data, &out), "%s -> %s", enc.Name(), dec.Name())
			assert.Equal(t, in, out)
		}
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "manifest.go-json.json", FileName("manifest", GoJSON{}))

	stem, c, ok := ParseFileName("runs/r1/" + FileName("manifest", JSON{}))
	require.True(t, ok)
	assert.Equal(t, "manifest", stem)
	assert.Equal(t, JSON{}, c)
}

func TestParseFileName_Unknown(t *testing.T) {
	stem, _, ok := ParseFileName("runs/r1/manifest.msgpack.json")
	assert.False(t, ok)
	assert.Equal(t, "manifest", stem, "the form is recognised even if the codec is not")

	for _, name := range []string{"runs/r1/values.col", "manifest.json", ".go-json.json"} {
		stem, _, ok := ParseFileName(name)
		assert.False(t, ok, name)
		assert.Empty(t, stem, name)
	}
}
