package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for a format outside the known set.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format selects how an uploaded stream is framed.
type Format int

const (
	// Mbox is a concatenation of messages, each introduced by a "From " line.
	Mbox Format = iota + 1
	// SingleMessage is one standalone RFC 5322 message (.eml).
	SingleMessage
)

func (f Format) String() string {
	switch f {
	case Mbox:
		return "mbox"
	case SingleMessage:
		return "eml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Valid reports whether f is one of the declared formats.
func (f Format) Valid() bool {
	return f == Mbox || f == SingleMessage
}

// ParseFormat maps a name ("mbox", "eml", "message") or the legacy numeric
// discriminator ("1", "2") to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mbox", "1":
		return Mbox, nil
	case "eml", "message", "single", "2":
		return SingleMessage, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}
