package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cassiomorais/payflow/internal/repository/postgres"
)

const maxIdempotencyBodySize = 1 << 20

// IdempotencyStore keeps responses per Idempotency-Key.
// Get returns (nil, nil) for unknown or expired keys.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	Set(ctx context.Context, entry *postgres.IdempotencyEntry) error
}

// Idempotency replays the stored response of a request repeated with the same
// Idempotency-Key on the same route. Reusing a key with a different body is a
// conflict. Server errors are not stored.
func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Idempotency-Key")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + " " + r.URL.Path + " " + header

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize+1))
			if err != nil {
				writeIdempotencyError(w, http.StatusBadRequest, "failed to read request body", "validation_error")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			requestHash := hashBody(body)

			entry, err := store.Get(r.Context(), key)
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if err == nil && entry != nil {
				if entry.RequestHash != "" && entry.RequestHash != requestHash {
					writeIdempotencyError(w, http.StatusConflict,
						"idempotency key already used for a different request body", "duplicate_request")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(entry.ResponseStatus)
				w.Write([]byte(entry.ResponseBody))
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= 200 && rec.statusCode < 500 && !rec.bodyTruncated {
				now := time.Now()
				if err := store.Set(r.Context(), &postgres.IdempotencyEntry{
					Key:            key,
					RequestHash:    requestHash,
					ResponseBody:   rec.body.String(),
					ResponseStatus: rec.statusCode,
					CreatedAt:      now,
					ExpiresAt:      now.Add(ttl),
				}); err != nil {
					log.Ctx(r.Context()).Warn().Err(err).Msg("idempotency store failed")
				}
			}
		})
	}
}

func hashBody(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}

func writeIdempotencyError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
