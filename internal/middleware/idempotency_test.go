package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/farepay/farepay-api/internal/pkg/database/dbtest"
)

func newIdempotentHandler(calls *int32, status int) http.Handler {
	return Idempotency(NewMemoryIdempotencyStore(), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if n == 1 {
			w.Write([]byte(`{"success":true,"data":{"n":1}}`))
		} else {
			w.Write([]byte(`{"success":true,"data":{"n":2}}`))
		}
	}))
}

func idempotentRequest(userID uuid.UUID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	req = req.WithContext(WithIdentity(req.Context(), userID, "passenger"))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	var calls int32
	h := newIdempotentHandler(&calls, http.StatusCreated)
	user := uuid.New()

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(user, "k1", `{"token_code":"ABCD1234"}`))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(user, "k1", `{"token_code":"ABCD1234"}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of first response, got %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(ReplayedHeader) != "true" {
		t.Fatal("expected replay header")
	}
}

func TestIdempotencyKeysScopedPerUser(t *testing.T) {
	var calls int32
	h := newIdempotentHandler(&calls, http.StatusCreated)

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(uuid.New(), "shared", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(uuid.New(), "shared", `{}`))

	if calls != 2 {
		t.Fatalf("expected both users to execute, got %d calls", calls)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	var calls int32
	h := newIdempotentHandler(&calls, http.StatusCreated)
	user := uuid.New()

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "k1", `{"token_code":"ABCD1234"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, idempotentRequest(user, "k1", `{"token_code":"ZZZZ9999"}`))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestIdempotencyDoesNotCacheServerErrors(t *testing.T) {
	var calls int32
	h := newIdempotentHandler(&calls, http.StatusInternalServerError)
	user := uuid.New()

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "k1", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "k1", `{}`))

	if calls != 2 {
		t.Fatalf("expected retry after 500 to execute again, got %d calls", calls)
	}
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	var calls int32
	h := newIdempotentHandler(&calls, http.StatusCreated)
	user := uuid.New()

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "", `{}`))

	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestMemoryStoreReportsInFlight(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()

	if cached, err := s.Begin(ctx, "k"); err != nil || cached != nil {
		t.Fatalf("expected claim, got %v %v", cached, err)
	}
	if _, err := s.Begin(ctx, "k"); err != ErrRequestInFlight {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}
	if err := s.Abort(ctx, "k"); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if _, err := s.Begin(ctx, "k"); err != nil {
		t.Fatalf("expected claim after abort, got %v", err)
	}
}

func assertFirstResultKept(t *testing.T, s IdempotencyStore, key string) {
	t.Helper()
	ctx := context.Background()

	if cached, err := s.Begin(ctx, key); err != nil || cached != nil {
		t.Fatalf("expected claim, got %v %v", cached, err)
	}
	if err := s.Complete(ctx, key, CachedResponse{Status: http.StatusOK, Body: []byte(`{"success":true}`), RequestHash: "h"}, time.Hour); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	// A duplicate that slipped past the lookup finishes second
	if err := s.Complete(ctx, key, CachedResponse{Status: http.StatusConflict, Body: []byte(`{"success":false}`), RequestHash: "h"}, time.Hour); err != nil {
		t.Fatalf("second complete failed: %v", err)
	}

	cached, err := s.Begin(ctx, key)
	if err != nil || cached == nil {
		t.Fatalf("expected cached response, got %v %v", cached, err)
	}
	if cached.Status != http.StatusOK || string(cached.Body) != `{"success":true}` {
		t.Fatalf("cached = %d %s, want the first 200", cached.Status, cached.Body)
	}
}

func TestMemoryStoreKeepsFirstResult(t *testing.T) {
	assertFirstResultKept(t, NewMemoryIdempotencyStore(), "k")
}

func TestRedisStoreKeepsFirstResult(t *testing.T) {
	client := dbtest.OpenRedis(t)
	s := NewRedisIdempotencyStore(client)
	key := "idempotency:test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key, key+":lock") })

	assertFirstResultKept(t, s, key)

	if exists, _ := client.Exists(context.Background(), key+":lock").Result(); exists != 0 {
		t.Fatal("claim must be released after completion")
	}
}
