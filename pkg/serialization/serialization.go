package serialization

import "io"

const (

	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder and Encoder are the interface for serialization.
type Decoder interface {
	Decode(v any) error
}

// Encoder and Decoder are the interface for serialization.
type Encoder interface {
	Encode(v any) error
}

// EncoderFunc builds an Encoder writing to w.
type EncoderFunc func(w io.Writer) Encoder

// DecoderFunc builds a Decoder reading from r.
type DecoderFunc func(r io.Reader) Decoder
