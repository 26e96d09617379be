package decoder

import (
	"errors"
	"fmt"
	"io"
	"net/mail"

	"github.com/jhillyerd/enmime"

	"github.com/dhcgn/email-analyzer/model"
)

// Enmime decodes messages with github.com/jhillyerd/enmime. It is more
// lenient than GoMessage: most structural problems end up in the envelope's
// error list instead of failing the decode.
type Enmime struct{}

func (Enmime) Name() string { return NameEnmime }

func (Enmime) Decode(r io.Reader) (model.DecodedMessage, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return model.DecodedMessage{}, fmt.Errorf("read envelope: %w", err)
	}

	var decoded model.DecodedMessage

	if len(env.GetHeaderValues("Subject")) > 0 {
		subject := env.GetHeader("Subject")
		decoded.Subject = &subject
	}

	from, err := envelopeAddresses(env, "From")
	if err != nil {
		return model.DecodedMessage{}, err
	}
	decoded.From = from

	to, err := envelopeAddresses(env, "To")
	if err != nil {
		return model.DecodedMessage{}, err
	}
	decoded.To = to

	decoded.HasAttachments = len(env.Attachments) > 0

	return decoded, nil
}

func envelopeAddresses(env *enmime.Envelope, key string) ([]string, error) {
	list, err := env.AddressList(key)
	if err != nil {
		if errors.Is(err, mail.ErrHeaderNotPresent) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return addresses(list), nil
}
