package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dhcgn/email-analyzer/model"
	"github.com/dhcgn/email-analyzer/parser"
	"github.com/dhcgn/email-analyzer/stats"
)

// Response texts are part of the public contract.
const (
	MsgNoFile      = "No file was uploaded or the file is empty."
	MsgParseFailed = "Failed to parse the uploaded file as an email."
	MsgTooLarge    = "Uploaded file is too large."
)

const (
	PathUploadMbox = "/Email/UploadMbox"
	PathUploadElm  = "/Email/UploadElm"
)

// Options tunes request handling.
type Options struct {
	FormField     string
	MaxUploadSize int64
}

// Handler serves the upload endpoints.
type Handler struct {
	parser *parser.Parser
	opts   Options
	logger *slog.Logger
	events stats.Sink
}

// NewHandler wires a Handler. events may be nil.
func NewHandler(p *parser.Parser, opts Options, logger *slog.Logger, events stats.Sink) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		parser: p,
		opts:   opts,
		logger: logger,
		events: events,
	}
}

// Register mounts the upload routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc(PathUploadMbox, h.UploadMbox).Methods(http.MethodPost)
	r.HandleFunc(PathUploadElm, h.UploadElm).Methods(http.MethodPost)
}

// UploadMbox summarizes the first message of an uploaded mbox archive.
func (h *Handler) UploadMbox(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, parser.Mbox)
}

// UploadElm summarizes an uploaded single message.
func (h *Handler) UploadElm(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, parser.SingleMessage)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request, format parser.Format) {
	stage := stageFor(format)
	logger := h.logger.With("format", format.String())

	if h.opts.MaxUploadSize > 0 {
		if r.ContentLength > h.opts.MaxUploadSize {
			h.tooLarge(w, logger, stage, r.ContentLength)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize)
	}

	file, header, err := r.FormFile(h.opts.FormField)
	if r.MultipartForm != nil {
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.tooLarge(w, logger, stage, r.ContentLength)
			return
		}
		logger.Debug("upload rejected", "reason", err)
		h.emit(stats.Event{Stage: stage, Type: stats.EventTypeRejected, Detail: err.Error()})
		writeText(w, http.StatusBadRequest, MsgNoFile)
		return
	}
	defer file.Close()

	if header.Size == 0 {
		logger.Debug("upload rejected", "reason", "empty file", "filename", header.Filename)
		h.emit(stats.Event{Stage: stage, Type: stats.EventTypeRejected, Detail: "empty file"})
		writeText(w, http.StatusBadRequest, MsgNoFile)
		return
	}

	h.emit(stats.Event{Stage: stage, Type: stats.EventTypeReceived, Bytes: header.Size})

	records, err := h.parser.Parse(r.Context(), file, format)
	if err == nil {
		var msg model.DecodedMessage
		msg, err = parser.First(records)
		if err == nil {
			h.respond(w, logger, stage, msg, len(records))
			return
		}
	}

	if errors.Is(err, parser.ErrNoMessages) {
		logger.Warn("uploaded file contains no messages", "filename", header.Filename, "size", header.Size)
		h.emit(stats.Event{Stage: stage, Type: stats.EventTypeEmpty})
	} else {
		logger.Error("failed to parse the uploaded file", "filename", header.Filename, "size", header.Size, "err", err)
		h.emit(stats.Event{Stage: stage, Type: stats.EventTypeFailed, Err: err})
	}
	writeText(w, http.StatusBadRequest, MsgParseFailed)
}

func (h *Handler) respond(w http.ResponseWriter, logger *slog.Logger, stage stats.Stage, msg model.DecodedMessage, total int) {
	logger.Info("email parsed",
		"subject", msg.SubjectOrEmpty(),
		"from", msg.From,
		"to", msg.To,
		"hasAttachments", msg.HasAttachments,
		"messages", total,
		"decoder", h.parser.Decoder().Name(),
	)
	h.emit(stats.Event{Stage: stage, Type: stats.EventTypeParsed})
	writeJSON(w, http.StatusOK, model.Summarize(msg))
}

func (h *Handler) tooLarge(w http.ResponseWriter, logger *slog.Logger, stage stats.Stage, size int64) {
	logger.Warn("upload rejected", "reason", "too large", "contentLength", size, "limit", h.opts.MaxUploadSize)
	h.emit(stats.Event{Stage: stage, Type: stats.EventTypeTooLarge})
	writeText(w, http.StatusRequestEntityTooLarge, MsgTooLarge)
}

func (h *Handler) emit(evt stats.Event) {
	if h.events != nil {
		h.events.EmitEvent(evt)
	}
}

func stageFor(format parser.Format) stats.Stage {
	if format == parser.Mbox {
		return stats.StageMbox
	}
	return stats.StageMessage
}

// writeJSON writes data with the supplied status. Encoding happens before the
// header is sent so a failure can still become a 500.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{}"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
