package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// IDEMPOTENCY KEYS (Redis)
// =============================================================================

// IdempotencyHeader names the client-chosen key for a POST.
const IdempotencyHeader = "Idempotency-Key"

// lockTTL bounds how long a crashed request can block its key.
const lockTTL = 30 * time.Second

// maxIdempotentBody caps the body read to fingerprint a request.
const maxIdempotentBody = 1 << 20

// Idempotency replays the stored response of a POST that was already
// processed under the same key, and refuses a duplicate while the first
// one is still running. A key reused with a different body is rejected
// with 422 instead of replaying a response to another request. Redis
// failures fall through to normal processing.
type Idempotency struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewIdempotency(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Idempotency {
	if logger == nil {
		logger = zap.L().Named("api.idempotency")
	}
	return &Idempotency{rdb: rdb, ttl: ttl, logger: logger}
}

type storedResponse struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

// Fingerprint is the hex SHA-256 of a request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CacheKey scopes a client key to the route and the caller.
func CacheKey(path, actorID, key string) string {
	return fmt.Sprintf("idemp:%s:%s:%s", path, actorID, key)
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, leave.CodeInvalidInput,
				"request body too large", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		fingerprint := Fingerprint(body)

		ctx := r.Context()
		actor, _ := ActorFrom(ctx)
		cacheKey := CacheKey(r.URL.Path, actor.ID, key)
		lockKey := cacheKey + ":lock"

		raw, err := i.rdb.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil:
			var stored storedResponse
			if jsonErr := json.Unmarshal(raw, &stored); jsonErr == nil {
				if stored.Fingerprint != fingerprint {
					writeError(w, http.StatusUnprocessableEntity, CodeKeyReused,
						"idempotency key was already used with a different request body", nil)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				w.Write(stored.Body)
				return
			}
			i.logger.Warn("discarding unreadable idempotency record", zap.String("key", cacheKey))
		case !errors.Is(err, redis.Nil):
			i.logger.Warn("idempotency lookup failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		acquired, err := i.rdb.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			i.logger.Warn("idempotency lock failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !acquired {
			writeError(w, http.StatusConflict, CodeRequestInProgress,
				"a request with this idempotency key is still being processed", nil)
			return
		}
		defer i.rdb.Del(context.WithoutCancel(ctx), lockKey)

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			return
		}
		payload, err := json.Marshal(storedResponse{
			Status: rec.status, Body: rec.body.Bytes(), Fingerprint: fingerprint,
		})
		if err != nil {
			return
		}
		if err := i.rdb.Set(context.WithoutCancel(ctx), cacheKey, payload, i.ttl).Err(); err != nil {
			i.logger.Warn("failed to store idempotent response", zap.Error(err))
		}
	})
}

// recordingWriter copies the response body while passing it through.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
