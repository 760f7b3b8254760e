package serialization

import (
	"encoding/json"
	"io"
)

type jsonCodec struct {
	dec *json.Decoder
	enc *json.Encoder
}

func (j *jsonCodec) Decode(v any) error {
	return j.dec.Decode(v)
}

func (j *jsonCodec) Encode(v any) error {
	return j.enc.Encode(v)
}

// JSONDecoder returns a Decoder that reads JSON from r.
func JSONDecoder(r io.Reader) Decoder {
	return &jsonCodec{dec: json.NewDecoder(r)}
}

// JSONEncoder returns an Encoder that writes JSON to w.
func JSONEncoder(w io.Writer) Encoder {
	return &jsonCodec{enc: json.NewEncoder(w)}
}
