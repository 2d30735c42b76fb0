package reactor

import "encoding/json"

// jsonCodec is the default Marshaler used by the delegate-CAS bindings.
// A full deployment would persist ActionResult and Operation as the
// protobuf messages defined on the wire; those generated types are out
// of scope for this core; JSON keeps DelegateCASMap exercised end to end
// without inventing protobuf schemas this package doesn't own.
type jsonCodec[V any] struct{}

// JSONCodec returns a Marshaler[V] backed by encoding/json.
func JSONCodec[V any]() Marshaler[V] {
	return jsonCodec[V]{}
}

func (jsonCodec[V]) Marshal(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec[V]) Unmarshal(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

// jsonTreeCodec is the default TreeCodec, decoding Directory the same way
// jsonCodec decodes any other DelegateCASMap value.
type jsonTreeCodec struct{}

// JSONTreeCodec returns a TreeCodec backed by encoding/json.
func JSONTreeCodec() TreeCodec { return jsonTreeCodec{} }

func (jsonTreeCodec) Decode(b []byte) (Directory, error) {
	var d Directory
	err := json.Unmarshal(b, &d)
	return d, err
}
