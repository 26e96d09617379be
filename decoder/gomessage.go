package decoder

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/email-analyzer/model"
)

// GoMessage decodes messages with github.com/emersion/go-message.
type GoMessage struct{}

func (GoMessage) Name() string { return NameGoMessage }

func (GoMessage) Decode(r io.Reader) (model.DecodedMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return model.DecodedMessage{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var decoded model.DecodedMessage

	if mr.Header.Has("Subject") {
		subject, err := mr.Header.Subject()
		if err != nil && !message.IsUnknownCharset(err) {
			return model.DecodedMessage{}, fmt.Errorf("decode subject: %w", err)
		}
		decoded.Subject = &subject
	}

	from, err := mr.Header.AddressList("From")
	if err != nil {
		return model.DecodedMessage{}, fmt.Errorf("parse From: %w", err)
	}
	decoded.From = addresses(from)

	to, err := mr.Header.AddressList("To")
	if err != nil {
		return model.DecodedMessage{}, fmt.Errorf("parse To: %w", err)
	}
	decoded.To = addresses(to)

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return model.DecodedMessage{}, fmt.Errorf("read part: %w", err)
		}
		if part == nil {
			continue
		}
		if h, ok := part.Header.(*mail.AttachmentHeader); ok && isAttachment(h) {
			decoded.HasAttachments = true
		}
	}

	return decoded, nil
}

// go-message hands out an AttachmentHeader for any non-text part without a
// disposition; only an explicit "attachment" disposition counts here.
func isAttachment(h *mail.AttachmentHeader) bool {
	disp, _, err := h.ContentDisposition()
	return err == nil && strings.EqualFold(disp, "attachment")
}
