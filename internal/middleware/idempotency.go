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
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/farepay/farepay-api/internal/pkg/logger"
	"github.com/farepay/farepay-api/internal/pkg/response"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "X-Idempotency-Replayed"

	maxIdempotencyKeyLen = 128
	inFlightTTL          = time.Minute
)

var (
	ErrRequestInFlight = errors.New("request with this idempotency key is in progress")
)

// CachedResponse is the stored outcome of the first request for a key.
type CachedResponse struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// IdempotencyStore keeps first responses per key.
type IdempotencyStore interface {
	// Begin returns the cached response for key, or claims key for a new request.
	// ErrRequestInFlight is returned when another request holds the claim.
	Begin(ctx context.Context, key string) (*CachedResponse, error)
	// Complete stores resp and releases the claim. A response already stored
	// for key is kept.
	Complete(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error
	Abort(ctx context.Context, key string) error
}

// Idempotency replays the first response for a repeated Idempotency-Key.
// Keys are scoped to the authenticated user. Server errors are not cached so
// a retry runs again.
func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				response.BadRequest(w, "Idempotency-Key is too long")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				response.BadRequest(w, "Unable to read request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))
			requestHash := hex.EncodeToString(sum[:])
			storeKey := "idempotency:" + GetUserID(r.Context()).String() + ":" + key
			log := logger.FromContext(r.Context())

			cached, err := store.Begin(r.Context(), storeKey)
			switch {
			case errors.Is(err, ErrRequestInFlight):
				response.Error(w, http.StatusConflict, "REQUEST_IN_PROGRESS", "A request with this Idempotency-Key is still being processed")
				return
			case err != nil:
				log.Warn().Err(err).Msg("Idempotency store unavailable, processing without replay protection")
				next.ServeHTTP(w, r)
				return
			case cached != nil:
				if cached.RequestHash != requestHash {
					response.Error(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was used with a different request")
					return
				}
				log.Info().Str("idempotency_key", key).Msg("Replaying cached response")
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(cached.Status)
				w.Write(cached.Body)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				if !completed {
					// Panics and server errors release the claim so a retry can run
					if err := store.Abort(context.WithoutCancel(r.Context()), storeKey); err != nil {
						log.Warn().Err(err).Msg("Failed to release idempotency key")
					}
				}
			}()

			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				return
			}
			err = store.Complete(context.WithoutCancel(r.Context()), storeKey, CachedResponse{
				Status:      rec.status,
				Body:        rec.body.Bytes(),
				RequestHash: requestHash,
			}, ttl)
			if err != nil {
				log.Error().Err(err).Str("idempotency_key", key).Msg("Failed to store idempotent response")
				return
			}
			completed = true
		})
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// RedisIdempotencyStore shares idempotency keys across instances.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (*CachedResponse, error) {
	cached, err := s.load(ctx, key)
	if err != nil || cached != nil {
		return cached, err
	}

	claimed, err := s.client.SetNX(ctx, key+":lock", "1", inFlightTTL).Result()
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrRequestInFlight
	}

	// The first request may have completed between the lookup and the claim
	cached, err = s.load(ctx, key)
	if err != nil || cached != nil {
		if delErr := s.client.Del(ctx, key+":lock").Err(); delErr != nil && err == nil {
			err = delErr
		}
		return cached, err
	}
	return nil, nil
}

func (s *RedisIdempotencyStore) load(ctx context.Context, key string) (*CachedResponse, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.SetNX(ctx, key, raw, ttl)
	pipe.Del(ctx, key+":lock")
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisIdempotencyStore) Abort(ctx context.Context, key string) error {
	return s.client.Del(ctx, key+":lock").Err()
}

// MemoryIdempotencyStore keeps keys in process memory for single-instance runs.
type MemoryIdempotencyStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	inFlight map[string]bool
	now      func() time.Time
}

type memoryEntry struct {
	resp      CachedResponse
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries:  make(map[string]memoryEntry),
		inFlight: make(map[string]bool),
		now:      time.Now,
	}
}

func (s *MemoryIdempotencyStore) Begin(ctx context.Context, key string) (*CachedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		if s.now().Before(e.expiresAt) {
			resp := e.resp
			return &resp, nil
		}
		delete(s.entries, key)
	}
	if s.inFlight[key] {
		return nil, ErrRequestInFlight
	}
	s.inFlight[key] = true
	return nil, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
	if e, ok := s.entries[key]; ok && s.now().Before(e.expiresAt) {
		return nil
	}
	s.entries[key] = memoryEntry{resp: resp, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Abort(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
	return nil
}
