// Package decoder turns a single raw RFC 5322 message into a
// model.DecodedMessage. Two backends are available: go-message, which is the
// default, and enmime.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strings"

	"github.com/dhcgn/email-analyzer/model"
)

// ErrUnknownDecoder is returned by New for an unregistered backend name.
var ErrUnknownDecoder = errors.New("unknown decoder")

// Decoder decodes exactly one message from r.
type Decoder interface {
	Name() string
	Decode(r io.Reader) (model.DecodedMessage, error)
}

const (
	NameGoMessage = "go-message"
	NameEnmime    = "enmime"
)

// Default is the backend used when none is configured.
const Default = NameGoMessage

var registry = map[string]func() Decoder{
	NameGoMessage: func() Decoder { return GoMessage{} },
	NameEnmime:    func() Decoder { return Enmime{} },
}

// New returns the decoder registered under name. An empty name selects Default.
func New(name string) (Decoder, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = Default
	}
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownDecoder, name, strings.Join(Names(), ", "))
	}
	return factory(), nil
}

// Names lists the registered backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func addresses(list []*mail.Address) []string {
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if addr == nil || addr.Address == "" {
			continue
		}
		out = append(out, addr.Address)
	}
	return out
}
