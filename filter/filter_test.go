package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := New(Options{IncludeHeader: []string{"Subject: Invoice"}})
	require.NoError(t, err)

	body := []byte("Please find the invoice attached")

	assert.True(t, f.Allows([]byte("Subject: Invoice 2025-01\nFrom: billing@example.com\n"), body))
	assert.False(t, f.Allows([]byte("Subject: Lunch\nFrom: alice@example.com\n"), body))
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := New(Options{ExcludeHeader: []string{"(?i)list-unsubscribe"}})
	require.NoError(t, err)

	body := []byte("body")

	assert.True(t, f.Allows([]byte("Subject: Hello\nFrom: alice@example.com\n"), body))
	assert.False(t, f.Allows([]byte("Subject: Deals\nList-Unsubscribe: <mailto:x@example.com>\n"), body))
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{
		IncludeHeader: []string{"test"},
		ExcludeBody:   []string{"spam"},
	})
	assert.Error(t, err)
}

func TestFilter_InvalidPattern(t *testing.T) {
	_, err := New(Options{IncludeBody: []string{"("}})
	assert.Error(t, err)
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := New(Options{IncludeHeader: []string{"  "}})
	require.NoError(t, err)
	assert.True(t, f.Allows([]byte("Subject: Any\n"), []byte("Any body")))
	assert.False(t, Options{}.Active())
	assert.True(t, Options{ExcludeBody: []string{"x"}}.Active())
}

func TestFilter_AllowsRaw(t *testing.T) {
	f, err := New(Options{IncludeBody: []string{"important"}})
	require.NoError(t, err)

	// The header mentions the word too, but only the body is consulted.
	assert.False(t, f.AllowsRaw([]byte("Subject: important\n\nregular body")))
	assert.True(t, f.AllowsRaw([]byte("Subject: hi\r\n\r\nan important body")))
}

func TestFilter_Stats(t *testing.T) {
	f, err := New(Options{ExcludeHeader: []string{"spam", "promo"}})
	require.NoError(t, err)

	f.AllowsRaw([]byte("Subject: spam spam\n\nbody"))
	f.AllowsRaw([]byte("Subject: spam and promo\n\nbody"))
	f.AllowsRaw([]byte("Subject: fine\n\nbody"))

	stats := f.Stats()
	assert.Equal(t, map[string]int{"spam": 2, "promo": 1}, stats.ExcludeHeaderHits)
	assert.Empty(t, stats.IncludeHeaderHits)
}

func TestSplitRawMessage(t *testing.T) {
	tests := []struct {
		name       string
		raw        []byte
		wantHeader []byte
		wantBody   []byte
	}{
		{
			name:       "CRLF separator",
			raw:        []byte("Header: value\r\n\r\nBody content"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("Body content"),
		},
		{
			name:       "LF separator",
			raw:        []byte("Header: value\n\nBody content"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("Body content"),
		},
		{
			name:       "No separator",
			raw:        []byte("All header content"),
			wantHeader: []byte("All header content"),
		},
		{
			name: "Empty message",
			raw:  []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotHeader, gotBody := SplitRawMessage(tt.raw)
			assert.Equal(t, string(tt.wantHeader), string(gotHeader))
			assert.Equal(t, string(tt.wantBody), string(gotBody))
		})
	}
}
