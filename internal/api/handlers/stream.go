// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/quistream/internal/descriptor"
	"github.com/autobrr/quistream/internal/stream"
	"github.com/autobrr/quistream/internal/swarm"
	"github.com/autobrr/quistream/pkg/httphelpers"
)

// SessionHeader carries the stream session id so clients can cancel it
// through the sessions API.
const SessionHeader = "X-Stream-Session"

// TorrentLoader resolves the process's torrent. *swarm.Loader implements it.
type TorrentLoader interface {
	Load(ctx context.Context, raw string) (*swarm.Loaded, error)
	Current() (*swarm.Loaded, bool)
}

type StreamHandler struct {
	loader     TorrentLoader
	extensions []string
}

func NewStreamHandler(loader TorrentLoader, extensions []string) *StreamHandler {
	return &StreamHandler{
		loader:     loader,
		extensions: extensions,
	}
}

func (h *StreamHandler) Routes(r chi.Router) {
	r.Get("/", h.Stream)
	r.Head("/", h.Stream)
}

// Stream serves GET|HEAD /stream?magnet=&file=. Without a Range header the
// whole file is sent with 200; with one, the range is sent with 206.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	loaded, err := h.loader.Load(ctx, strings.TrimSpace(query.Get("magnet")))
	if err != nil {
		h.fail(w, r, err, "Failed to load torrent")
		return
	}

	file, err := loaded.Descriptor.PlayableFile(query.Get("file"), h.extensions)
	if err != nil {
		h.fail(w, r, err, "No playable file")
		return
	}

	byteRange, partial, err := requestedRange(r.Header.Get("Range"), file.Length)
	if err != nil {
		h.fail(w, r, err, "Rejected range")
		return
	}

	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
	}

	header := w.Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", descriptor.ContentType(file.Name))
	header.Set("ETag", ETag(loaded.Descriptor.InfoHash, file.Path))

	layout := loaded.Descriptor.Layout(file)

	if r.Method == http.MethodHead {
		window, err := stream.Translate(layout, byteRange)
		if err != nil {
			h.fail(w, r, err, "Rejected range")
			return
		}
		setLengthHeaders(header, window.Range, file.Length, partial)
		w.WriteHeader(status)
		return
	}

	sink := newResponseSink(w, r, status)
	sess, err := loaded.Manager.Start(stream.Request{
		Layout:   layout,
		Range:    byteRange,
		Playable: true,
		Label:    file.Path,
	}, sink)
	if err != nil {
		h.fail(w, r, err, "Could not start stream")
		return
	}

	setLengthHeaders(header, sess.Window().Range, file.Length, partial)
	header.Set(SessionHeader, strconv.FormatUint(sess.ID(), 10))

	err = sess.Run(ctx)
	if err == nil {
		return
	}

	if !sink.committed {
		// Nothing reached the client yet, so the status can still change.
		header.Del("Content-Length")
		header.Del("Content-Range")
		h.fail(w, r, err, "Stream failed before first byte")
		return
	}

	event := log.Debug()
	if !errors.Is(err, stream.ErrSessionCancelled) && !errors.Is(err, stream.ErrSinkWrite) {
		event = log.Warn()
	}
	event.Err(err).
		Uint64("sessionId", sess.ID()).
		Str("file", file.Path).
		Int64("emitted", sess.Emitted()).
		Msg("Stream ended early")
}

func (h *StreamHandler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := respondStreamError(w, err)

	event := log.Debug()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Int("status", status).
		Str("range", r.Header.Get("Range")).
		Msg(msg)
}

// requestedRange turns a Range header into a file-relative range. An absent
// header selects the whole file and reports partial as false.
func requestedRange(header string, size int64) (br stream.ByteRange, partial bool, err error) {
	if strings.TrimSpace(header) == "" {
		return stream.ByteRange{Start: 0, End: stream.ToEOF}, false, nil
	}

	rng, err := httphelpers.ParseRange(header, size)
	if err != nil {
		return stream.ByteRange{}, true, err
	}

	end := rng.End
	if end == httphelpers.OpenEnd {
		end = stream.ToEOF
	}
	return stream.ByteRange{Start: rng.Start, End: end}, true, nil
}

func setLengthHeaders(header http.Header, resolved stream.ByteRange, size int64, partial bool) {
	header.Set("Content-Length", strconv.FormatInt(resolved.Length(), 10))
	if partial {
		header.Set("Content-Range", httphelpers.ContentRange(resolved.Start, resolved.End, size))
	}
}

// ETag identifies a file inside a torrent. Torrent content is immutable, so
// the info-hash and path are enough.
func ETag(infoHash, path string) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64String(infoHash+"/"+path))
}

// responseSink commits the status line on the first body write so an error
// before any byte can still be reported with a proper status.
type responseSink struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	done      <-chan struct{}
	status    int
	committed bool
}

func newResponseSink(w http.ResponseWriter, r *http.Request, status int) *responseSink {
	return &responseSink{
		w:      w,
		rc:     http.NewResponseController(w),
		done:   r.Context().Done(),
		status: status,
	}
}

func (s *responseSink) Write(p []byte) (int, error) {
	if !s.committed {
		s.committed = true
		s.w.WriteHeader(s.status)
	}

	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}

func (s *responseSink) Done() <-chan struct{} {
	return s.done
}
