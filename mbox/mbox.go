package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"

	mboxlib "github.com/emersion/go-mbox"
)

// ErrInvalidFormat is returned when the stream does not start with a
// "From " separator line.
var ErrInvalidFormat = mboxlib.ErrInvalidFormat

// RecordFunc receives each raw message of an mbox stream in order.
type RecordFunc func(idx int, raw []byte) error

// Split reads r as an mbox archive and calls fn with the raw bytes of every
// message, in stream order. It returns nil at a clean end of stream. The
// first framing, read or callback error stops the iteration.
func Split(ctx context.Context, r io.Reader, fn RecordFunc) error {
	reader := mboxlib.NewReader(r)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		if err := fn(idx, raw); err != nil {
			return err
		}
	}
}

// Count counts the messages of an mbox stream without decoding them.
func Count(r io.Reader) (int, error) {
	reader := mboxlib.NewReader(r)

	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}

		// Just consume the message without parsing
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return count, fmt.Errorf("message %d read: %w", count, err)
		}
		count++
	}
}
