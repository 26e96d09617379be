package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

type rule struct {
	pattern string
	re      *regexp.Regexp
}

// Filter decides which raw messages are decoded. Include and exclude modes are
// mutually exclusive.
type Filter struct {
	includeMode   bool
	excludeMode   bool
	includeHeader []rule
	includeBody   []rule
	excludeHeader []rule
	excludeBody   []rule

	mu   sync.Mutex
	hits map[string]int
}

// Stats holds how often each pattern matched, keyed by the pattern text.
type Stats struct {
	IncludeHeaderHits map[string]int
	IncludeBodyHits   map[string]int
	ExcludeHeaderHits map[string]int
	ExcludeBodyHits   map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:   includeActive,
		excludeMode:   excludeActive,
		includeHeader: includeHeader,
		includeBody:   includeBody,
		excludeHeader: excludeHeader,
		excludeBody:   excludeBody,
		hits:          make(map[string]int),
	}, nil
}

// AllowsRaw splits a raw message and applies Allows.
func (f *Filter) AllowsRaw(raw []byte) bool {
	header, body := SplitRawMessage(raw)
	return f.Allows(header, body)
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	if f.includeMode {
		h := f.match("ih", f.includeHeader, header)
		b := f.match("ib", f.includeBody, body)
		return h || b
	}

	if f.excludeMode {
		h := f.match("eh", f.excludeHeader, header)
		b := f.match("eb", f.excludeBody, body)
		return !h && !b
	}

	return true
}

// Stats returns a copy of the per-pattern hit counters. Patterns that never
// matched are reported with zero.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Stats{
		IncludeHeaderHits: f.collect("ih", f.includeHeader),
		IncludeBodyHits:   f.collect("ib", f.includeBody),
		ExcludeHeaderHits: f.collect("eh", f.excludeHeader),
		ExcludeBodyHits:   f.collect("eb", f.excludeBody),
	}
}

func (f *Filter) collect(scope string, rules []rule) map[string]int {
	out := make(map[string]int, len(rules))
	for _, r := range rules {
		out[r.pattern] = f.hits[scope+"\x00"+r.pattern]
	}
	return out
}

// match tests every rule so each one gets its hit counted.
func (f *Filter) match(scope string, rules []rule, text []byte) bool {
	if len(rules) == 0 {
		return false
	}
	matched := false
	for _, r := range rules {
		if r.re.Match(text) {
			matched = true
			f.mu.Lock()
			f.hits[scope+"\x00"+r.pattern]++
			f.mu.Unlock()
		}
	}
	return matched
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]rule, error) {
	compiled := make([]rule, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, rule{pattern: pattern, re: re})
	}
	return compiled, nil
}
