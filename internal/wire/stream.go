package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// StreamBody returns a request body that produces an NDJSON stream. produce
// is run on its own goroutine and sends messages with the given function;
// the body reports produce's error to the reader. Closing the body stops
// the producer.
func StreamBody(produce func(send func(any) error) error) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		enc := json.NewEncoder(pw)
		err := produce(func(msg any) error { return enc.Encode(msg) })
		pw.CloseWithError(err)
	}()
	return pr
}

// ReadStream decodes every NDJSON message in r and hands it to fn. An empty
// stream is an error.
func ReadStream[T any](r io.Reader, fn func(T) error) error {
	dec := json.NewDecoder(r)
	n := 0
	for {
		var msg T
		err := dec.Decode(&msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decode stream message %d: %w", n, err)
		}
		if err := fn(msg); err != nil {
			return err
		}
		n++
	}
	if n == 0 {
		return errors.New("empty stream")
	}
	return nil
}
