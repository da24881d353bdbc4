package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tablesync-backend/api/responses"
	pkgerrors "github.com/angelmondragon/tablesync-backend/pkg/errors"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/tablesync-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can hold its key.
	inFlightTTL = 30 * time.Second
)

type idempotencyPolicy struct {
	ttl time.Duration
	// optional routes run normally when the client sends no key. Customer
	// order placement is the only one: a browser retrying a submit sends the
	// key, older clients do not.
	optional bool
}

// idempotencyPolicies is keyed by "METHOD pattern" using chi route patterns.
var idempotencyPolicies = map[string]idempotencyPolicy{
	"POST /api/public/cafes/{cafeId}/orders":           {ttl: defaultIdempotencyTTL, optional: true},
	"POST /api/v1/menu/items":                          {ttl: defaultIdempotencyTTL},
	"POST /api/v1/notifications/{notificationId}/read": {ttl: defaultIdempotencyTTL},
	"POST /api/v1/notifications/read-all":              {ttl: defaultIdempotencyTTL},
	"PUT /api/v1/cafe":                                 {ttl: criticalIdempotencyTTL},
	"POST /api/v1/orders/{orderId}/transition":         {ttl: criticalIdempotencyTTL},
}

// idempotencyRecord is what Redis holds under a key. A record without a
// status marks a request that is still running.
type idempotencyRecord struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (r idempotencyRecord) complete() bool { return r.Status != 0 }

// Idempotency replays the first response for a repeated Idempotency-Key on
// the write routes listed in idempotencyPolicies. Keys are scoped to the
// caller (owner cafe or customer session) and the request path. Responses
// with a 5xx status are not kept so the client can retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy, ok := policyFor(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				if policy.optional {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			key := store.IdempotencyKey(callerScope(r), clientKey)
			hash := requestHash(body)

			reserved, err := reserve(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayOrReject(ctx, logg, w, store, key, hash)
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil {
					logIdempotencyError(ctx, logg, "release idempotency key", err)
				}
				return
			}

			record := idempotencyRecord{
				RequestHash: hash,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logIdempotencyError(ctx, logg, "encode idempotency record", err)
				return
			}
			if err := store.Set(ctx, key, string(payload), policy.ttl); err != nil {
				logIdempotencyError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

// reserve claims key for this request with a short lived in-flight record.
func reserve(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	payload, err := json.Marshal(idempotencyRecord{RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(payload), inFlightTTL)
}

func replayOrReject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, hash string) {
	raw, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	if raw == "" {
		// The holder released the key between our SETNX and GET.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is being retried, try again"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case !record.complete():
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func callerScope(r *http.Request) string {
	ctx := r.Context()
	return strings.Join([]string{
		CafeIDFromContext(ctx),
		string(SessionIDFromContext(ctx)),
		r.Method,
		r.URL.Path,
	}, "|")
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func policyFor(method, pattern string) (idempotencyPolicy, bool) {
	policy, ok := idempotencyPolicies[method+" "+pattern]
	return policy, ok
}

func logIdempotencyError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
