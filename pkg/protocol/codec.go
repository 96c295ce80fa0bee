package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNoInput is returned by Decode when the input holds no JSON document.
var ErrNoInput = errors.New("protocol: no input")

// Encoder writes responses as single lines of JSON.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new response encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode writes v followed by a newline and flushes the output.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// EncodeError writes an error response.
func (e *Encoder) EncodeError(message, kind string) error {
	return e.Encode(&ErrorResponse{Error: ErrorBody{Message: message, Kind: kind}})
}

// Decoder reads one request document.
type Decoder struct {
	d *json.Decoder
}

// NewDecoder creates a new request decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{d: json.NewDecoder(bufio.NewReader(r))}
}

// Decode reads the next JSON document into v.
func (d *Decoder) Decode(v any) error {
	if err := d.d.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrNoInput
		}
		return fmt.Errorf("failed to parse request: %w", err)
	}
	return nil
}
