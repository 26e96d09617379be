package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dhcgn/email-analyzer/decoder"
	"github.com/dhcgn/email-analyzer/mbox"
	"github.com/dhcgn/email-analyzer/model"
)

// ErrNoMessages is returned by First when nothing was decoded.
var ErrNoMessages = errors.New("no messages decoded")

// RecordFilter decides whether a raw record is decoded at all.
type RecordFilter interface {
	AllowsRaw(raw []byte) bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithFilter skips every record the filter rejects.
func WithFilter(f RecordFilter) Option {
	return func(p *Parser) {
		p.filter = f
	}
}

// Parser decodes uploaded streams into message records.
type Parser struct {
	decoder decoder.Decoder
	filter  RecordFilter
}

// New returns a Parser that decodes every record with dec.
func New(dec decoder.Decoder, opts ...Option) *Parser {
	p := &Parser{decoder: dec}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decoder returns the backend in use.
func (p *Parser) Decoder() decoder.Decoder {
	return p.decoder
}

// Parse decodes every record of r according to format, in stream order. Any
// failure aborts the whole call: the caller never sees a partial list.
func (p *Parser) Parse(ctx context.Context, r io.Reader, format Format) ([]model.DecodedMessage, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if format == Mbox {
		return p.parseMbox(ctx, r)
	}
	return p.parseSingle(r)
}

func (p *Parser) parseMbox(ctx context.Context, r io.Reader) ([]model.DecodedMessage, error) {
	var records []model.DecodedMessage

	err := mbox.Split(ctx, r, func(idx int, raw []byte) error {
		if p.filter != nil && !p.filter.AllowsRaw(raw) {
			return nil
		}
		msg, err := p.decoder.Decode(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("message %d decode: %w", idx, err)
		}
		records = append(records, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (p *Parser) parseSingle(r io.Reader) ([]model.DecodedMessage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if p.filter != nil && !p.filter.AllowsRaw(raw) {
		return nil, nil
	}

	msg, err := p.decoder.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	return []model.DecodedMessage{msg}, nil
}

// First returns the first record, or ErrNoMessages for an empty list.
func First(records []model.DecodedMessage) (model.DecodedMessage, error) {
	if len(records) == 0 {
		return model.DecodedMessage{}, ErrNoMessages
	}
	return records[0], nil
}
