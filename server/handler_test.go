package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-analyzer/decoder"
	"github.com/dhcgn/email-analyzer/model"
	"github.com/dhcgn/email-analyzer/parser"
	"github.com/dhcgn/email-analyzer/stats"
)

const simpleMessage = "Subject: Test\nFrom: a@x.com\nTo: b@y.com\n\nHello.\n"

const messageWithAttachment = "From: a@x.com\n" +
	"To: b@y.com\n" +
	"Subject: Report\n" +
	"MIME-Version: 1.0\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\n" +
	"\n" +
	"--XYZ\n" +
	"Content-Type: text/plain\n" +
	"\n" +
	"See attachment.\n" +
	"--XYZ\n" +
	"Content-Type: image/png\n" +
	"Content-Disposition: attachment; filename=\"pixel.png\"\n" +
	"Content-Transfer-Encoding: base64\n" +
	"\n" +
	"iVBORw0KGgo=\n" +
	"--XYZ--\n"

const twoMessageMbox = "From a@x.com Mon Jan  6 10:00:00 2025\n" +
	"Subject: first\n" +
	"From: a@x.com\n" +
	"To: b@y.com, c@y.com\n" +
	"\n" +
	"one\n" +
	"\n" +
	"From d@x.com Mon Jan  6 11:00:00 2025\n" +
	"Subject: second\n" +
	"From: d@x.com\n" +
	"To: e@y.com\n" +
	"MIME-Version: 1.0\n" +
	"Content-Type: multipart/mixed; boundary=\"B\"\n" +
	"\n" +
	"--B\n" +
	"Content-Type: application/zip\n" +
	"Content-Disposition: attachment; filename=\"a.zip\"\n" +
	"\n" +
	"zip\n" +
	"--B--\n"

type testEnv struct {
	router    http.Handler
	collector *stats.Collector
}

func newTestEnv(t *testing.T, decoderName string, maxUpload int64) testEnv {
	t.Helper()
	dec, err := decoder.New(decoderName)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	collector := stats.NewCollector()
	h := NewHandler(parser.New(dec), Options{FormField: "file", MaxUploadSize: maxUpload}, logger, collector)
	return testEnv{router: NewRouter(h, logger), collector: collector}
}

func uploadRequest(t *testing.T, path, field string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, "upload.eml")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(env testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadElmSimpleMessage(t *testing.T) {
	env := newTestEnv(t, decoder.Default, 1<<20)

	rec := serve(env, uploadRequest(t, PathUploadElm, "file", []byte(simpleMessage)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"Subject":"Test","From":["a@x.com"],"To":["b@y.com"],"HasAttachments":false}`, rec.Body.String())

	s := env.collector.Snapshot()
	assert.Equal(t, 1, s.Received)
	assert.Equal(t, 1, s.Parsed)
	assert.Equal(t, 1, s.PerStage[stats.StageMessage])
}

func TestUploadFirstMessageWins(t *testing.T) {
	for _, name := range decoder.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name, 1<<20)

			rec := serve(env, uploadRequest(t, PathUploadMbox, "file", []byte(twoMessageMbox)))
			require.Equal(t, http.StatusOK, rec.Code)

			var got model.Summary
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.NotNil(t, got.Subject)
			assert.Equal(t, "first", *got.Subject)
			assert.Equal(t, []string{"a@x.com"}, got.From)
			assert.Equal(t, []string{"b@y.com", "c@y.com"}, got.To)
			assert.False(t, got.HasAttachments)
		})
	}
}

func TestUploadAttachmentFlag(t *testing.T) {
	for _, name := range decoder.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name, 1<<20)

			rec := serve(env, uploadRequest(t, PathUploadElm, "file", []byte(messageWithAttachment)))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"Subject":"Report","From":["a@x.com"],"To":["b@y.com"],"HasAttachments":true}`, rec.Body.String())
		})
	}
}

func TestUploadMissingSubjectAndRecipients(t *testing.T) {
	env := newTestEnv(t, decoder.Default, 1<<20)

	rec := serve(env, uploadRequest(t, PathUploadElm, "file", []byte("From: a@x.com\n\nbody\n")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"Subject":null,"From":["a@x.com"],"To":[],"HasAttachments":false}`, rec.Body.String())
}

func TestUploadClientErrors(t *testing.T) {
	for _, path := range []string{PathUploadMbox, PathUploadElm} {
		t.Run(path, func(t *testing.T) {
			env := newTestEnv(t, decoder.Default, 1<<20)

			tests := []struct {
				name string
				req  *http.Request
			}{
				{name: "empty file", req: uploadRequest(t, path, "file", nil)},
				{name: "no file field", req: uploadRequest(t, path, "", nil)},
				{name: "wrong field name", req: uploadRequest(t, path, "attachment", []byte(simpleMessage))},
				{name: "not multipart", req: httptest.NewRequest(http.MethodPost, path, strings.NewReader(simpleMessage))},
			}

			for _, tt := range tests {
				rec := serve(env, tt.req)
				assert.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
				assert.Equal(t, MsgNoFile, rec.Body.String(), tt.name)
			}

			s := env.collector.Snapshot()
			assert.Equal(t, len(tests), s.Rejected)
			assert.Zero(t, s.Received)
		})
	}
}

func TestUploadParseFailures(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
	}{
		{name: "mbox without separator", path: PathUploadMbox, content: simpleMessage},
		{name: "garbled first mbox record", path: PathUploadMbox, content: "From a@x.com Mon Jan  6 10:00:00 2025\nnot a header line\n\nbody\n"},
		{name: "garbled message", path: PathUploadElm, content: "not a header line\n\nbody\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, decoder.Default, 1<<20)

			rec := serve(env, uploadRequest(t, tt.path, "file", []byte(tt.content)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, MsgParseFailed, rec.Body.String())
			assert.Equal(t, 1, env.collector.Snapshot().Failed)
		})
	}
}

func TestUploadEmptyMbox(t *testing.T) {
	env := newTestEnv(t, decoder.Default, 1<<20)

	rec := serve(env, uploadRequest(t, PathUploadMbox, "file", []byte("\n\n")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgParseFailed, rec.Body.String())

	s := env.collector.Snapshot()
	assert.Equal(t, 1, s.Empty)
	assert.Zero(t, s.Failed)
}

func TestUploadTooLarge(t *testing.T) {
	tests := []struct {
		name          string
		contentLength int64
	}{
		{name: "declared length", contentLength: 0},
		{name: "unknown length", contentLength: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, decoder.Default, 256)

			req := uploadRequest(t, PathUploadElm, "file", bytes.Repeat([]byte("a"), 4096))
			if tt.contentLength != 0 {
				// Chunked uploads only hit the limit while the body is read.
				req.ContentLength = tt.contentLength
			}

			rec := serve(env, req)
			assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
			assert.Equal(t, MsgTooLarge, rec.Body.String())
			assert.Equal(t, 1, env.collector.Snapshot().TooLarge)
		})
	}
}

func TestUploadMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, decoder.Default, 1<<20)

	rec := serve(env, httptest.NewRequest(http.MethodGet, PathUploadMbox, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerWithoutSink(t *testing.T) {
	dec, err := decoder.New("")
	require.NoError(t, err)
	h := NewHandler(parser.New(dec), Options{FormField: "file"}, nil, nil)

	rec := httptest.NewRecorder()
	h.UploadElm(rec, uploadRequest(t, PathUploadElm, "file", []byte(simpleMessage)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerServeAndShutdown(t *testing.T) {
	env := newTestEnv(t, decoder.Default, 1<<20)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(ServerOptions{ShutdownTimeout: time.Second}, env.router, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	req := uploadRequest(t, PathUploadElm, "file", []byte(simpleMessage))
	req.RequestURI = ""
	req.URL.Scheme = "http"
	req.URL.Host = ln.Addr().String()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"Subject":"Test"`)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
