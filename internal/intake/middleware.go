// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package intake

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/trackhouse/trackhouse/internal/metrics"
)

// DecompressGzip transparently inflates gzip-encoded request bodies.
// A body that declares gzip but fails to parse is rejected with 400;
// redelivery cannot fix a corrupt upload.
func DecompressGzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			metrics.RecordDrop(metrics.DropReasonMalformed)
			writeError(w, http.StatusBadRequest, "invalid gzip body")
			return
		}
		defer zr.Close()

		r.Header.Del("Content-Encoding")
		r.ContentLength = -1
		r.Body = bodyReader{Reader: zr, Closer: r.Body}
		next.ServeHTTP(w, r)
	})
}

// bodyReader reads the inflated stream while closing the original body.
type bodyReader struct {
	io.Reader
	io.Closer
}

// Instrument records request count and latency for one intake endpoint.
func Instrument(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			metrics.RecordIntakeRequest(endpoint, strconv.Itoa(ww.Status()), time.Since(start))
		})
	}
}
