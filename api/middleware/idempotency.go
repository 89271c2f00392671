package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/etmpass/notifications-service/api/responses"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
	"github.com/etmpass/notifications-service/pkg/logger"
	pkgredis "github.com/etmpass/notifications-service/pkg/redis"
)

const (
	idempotencyHeader   = "Idempotency-Key"
	replayedHeader      = "Idempotent-Replayed"
	replayTTL           = 24 * time.Hour
	inFlightTTL         = 30 * time.Second
	inFlightPlaceholder = "in-flight"
)

// replayable lists the routes whose successful responses are stored, keyed by
// method and chi route pattern. Requests without a key run normally.
var replayable = map[string]map[string]struct{}{
	http.MethodPost: {
		"/api/v1/notifications":       {},
		"/api/v1/notifications/queue": {},
	},
}

type storedResponse struct {
	Status      int       `json:"status"`
	ContentType string    `json:"content_type,omitempty"`
	Body        string    `json:"body"`
	RequestHash string    `json:"request_hash"`
	StoredAt    time.Time `json:"stored_at"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key. A
// key is claimed while its first request runs so a concurrent duplicate gets
// 409 instead of a second dispatch.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if store == nil || key == "" || !isReplayable(r.Method, routePattern(r)) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := hashBody(body)
			storeKey := store.IdempotencyKey(requestScope(r), key)

			claimed, err := store.SetNX(ctx, storeKey, inFlightPlaceholder, inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(ctx, logg, w, store, storeKey, hash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 || rec.status >= http.StatusBadRequest {
				// failed requests may be retried with the same key
				logIfErr(ctx, logg, "release idempotency key", store.Del(context.WithoutCancel(ctx), storeKey))
				return
			}
			persist(ctx, logg, store, storeKey, storedResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: hash,
				StoredAt:    time.Now().UTC(),
			})
		})
	}
}

func replay(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, hash string) {
	raw, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	if raw == "" || raw == inFlightPlaceholder {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this idempotency key is in progress"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if stored.RequestHash != hash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key reused with different request body"))
		return
	}

	body, err := base64.StdEncoding.DecodeString(stored.Body)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency body"))
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(body)
}

// persist replaces the in-flight claim with the final record.
func persist(ctx context.Context, logg *logger.Logger, store pkgredis.IdempotencyStore, key string, record storedResponse) {
	payload, err := json.Marshal(record)
	if err != nil {
		logIfErr(ctx, logg, "marshal idempotency record", err)
		return
	}
	logIfErr(ctx, logg, "persist idempotency record", store.Set(context.WithoutCancel(ctx), key, string(payload), replayTTL))
}

// requestScope keys records by caller, method and concrete path.
func requestScope(r *http.Request) string {
	return strings.Join([]string{
		strings.TrimSpace(r.Header.Get("X-User-Id")),
		r.Method,
		r.URL.Path,
	}, "|")
}

func isReplayable(method, pattern string) bool {
	if pattern != "/" {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	_, ok := replayable[method][pattern]
	return ok
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logIfErr(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
