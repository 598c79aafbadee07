package serializer

import "github.com/goccy/go-json"

// jsonSerializer is the default codec (spec.md §6: serialization =
// "json"). goccy/go-json is a drop-in encoding/json replacement; it is
// used here instead of the standard library purely for throughput,
// since the wire shape is identical either way.
type jsonSerializer struct{}

func (jsonSerializer) Name() string { return "json" }

func (jsonSerializer) Serialize(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerializer) Deserialize(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func init() {
	Register(jsonSerializer{})
}
