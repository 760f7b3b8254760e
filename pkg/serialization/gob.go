package serialization

import (
	"encoding/gob"
	"io"
)

// gobCodec wraps gob.Decoder and gob.Encoder behind the package interfaces.
type gobCodec struct {
	dec *gob.Decoder
	enc *gob.Encoder
}

// Decode decodes a value from the underlying gob.Decoder into v.
func (g *gobCodec) Decode(v any) error {
	return g.dec.Decode(v)
}

// Encode serializes v using gob encoding.
func (g *gobCodec) Encode(v any) error {
	return g.enc.Encode(v)
}

// GobDecoder returns a Decoder that reads gob-encoded data from r.
func GobDecoder(r io.Reader) Decoder {
	return &gobCodec{dec: gob.NewDecoder(r)}
}

// GobEncoder returns an Encoder that writes gob-encoded data to w.
func GobEncoder(w io.Writer) Encoder {
	return &gobCodec{enc: gob.NewEncoder(w)}
}
