// Package codec encodes run manifests.
//
// Manifests carry their codec in the file name (manifest.<codec>.json), so
// an archive written with one codec stays readable after the default
// changes. Both built-in codecs produce plain JSON and can read each
// other's output.
package codec

import (
	"encoding/json"
	"path"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used for new manifests.
var Default Codec = GoJSON{}

// GoJSON is backed by github.com/goccy/go-json.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }

// JSON is backed by encoding/json.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return "json" }

var builtin = map[string]Codec{
	GoJSON{}.Name(): GoJSON{},
	JSON{}.Name():   JSON{},
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	c, ok := builtin[name]
	return c, ok
}

// FileName returns the name of a file holding stem encoded with c, e.g.
// "manifest.go-json.json".
func FileName(stem string, c Codec) string {
	return stem + "." + c.Name() + ".json"
}

// ParseFileName splits a name produced by FileName, ignoring any directory.
// ok is false when the name has the form but the codec is unknown; stem is
// empty when the name does not have the form at all.
func ParseFileName(name string) (stem string, c Codec, ok bool) {
	base, found := strings.CutSuffix(path.Base(name), ".json")
	if !found {
		return "", nil, false
	}
	stem, codecName, found := strings.Cut(base, ".")
	if !found || stem == "" {
		return "", nil, false
	}
	c, ok = ByName(codecName)
	return stem, c, ok
}
