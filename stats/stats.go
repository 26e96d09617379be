package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox    Stage = "mbox"
	StageMessage Stage = "message"
)

type EventType string

const (
	EventTypeReceived EventType = "received"
	EventTypeParsed   EventType = "parsed"
	EventTypeRejected EventType = "rejected"
	EventTypeEmpty    EventType = "empty"
	EventTypeFailed   EventType = "failed"
	EventTypeTooLarge EventType = "too_large"
)

type Event struct {
	Stage  Stage
	Type   EventType
	Bytes  int64
	Err    error
	Detail string
}

// Sink accepts events. A nil Sink is valid and drops everything.
type Sink interface {
	EmitEvent(evt Event)
}

type Summary struct {
	Received  int
	Parsed    int
	Rejected  int
	Empty     int
	Failed    int
	TooLarge  int
	Bytes     int64
	PerStage  map[Stage]int
	LastError error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"received", s.Received,
		"parsed", s.Parsed,
		"rejected", s.Rejected,
		"empty", s.Empty,
		"failed", s.Failed,
		"tooLarge", s.TooLarge,
		"bytes", s.Bytes,
	}
	for _, stage := range []Stage{StageMbox, StageMessage} {
		attrs = append(attrs, string(stage), s.PerStage[stage])
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{PerStage: make(map[Stage]int)}}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.EmitEvent(evt)
		}
	}
}

// EmitEvent records evt directly, so a Collector can be used as a Sink.
func (c *Collector) EmitEvent(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeReceived:
		c.summary.Received++
		c.summary.Bytes += evt.Bytes
		if evt.Stage != "" {
			c.summary.PerStage[evt.Stage]++
		}
	case EventTypeParsed:
		c.summary.Parsed++
	case EventTypeRejected:
		c.summary.Rejected++
	case EventTypeEmpty:
		c.summary.Empty++
	case EventTypeFailed:
		c.summary.Failed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeTooLarge:
		c.summary.TooLarge++
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary := c.summary
	summary.PerStage = make(map[Stage]int, len(c.summary.PerStage))
	for k, v := range c.summary.PerStage {
		summary.PerStage[k] = v
	}
	return summary
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "uptime", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// FprintTop prints the top N most frequent items in a map to w.
func FprintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

// Pair is one entry of a frequency table.
type Pair struct {
	Key   string
	Value int
}

// Top returns up to limit entries of m, most frequent first. Ties are broken
// by key so the result is stable.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
