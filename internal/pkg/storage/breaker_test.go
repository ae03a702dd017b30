package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sony/gobreaker"
)

type failingStorage struct {
	calls int
}

func (f *failingStorage) Put(ctx context.Context, key string, reader io.Reader, contentType string) error {
	f.calls++
	return errors.New("s3 unavailable")
}

func (f *failingStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.calls++
	return nil, ErrNotFound
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	next := &failingStorage{}
	b := NewBreakerStorage("receipts-test", next)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Put(ctx, "k", strings.NewReader("x"), "text/plain"); err == nil {
			t.Fatal("expected upload error")
		}
	}

	err := b.Put(ctx, "k", strings.NewReader("x"), "text/plain")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if next.calls != 5 {
		t.Fatalf("expected open circuit to skip backend, backend saw %d calls", next.calls)
	}
	if b.State() != "open" {
		t.Fatalf("expected state open, got %s", b.State())
	}
}

func TestBreakerTreatsNotFoundAsSuccess(t *testing.T) {
	next := &failingStorage{}
	b := NewBreakerStorage("receipts-notfound", next)

	for i := 0; i < 10; i++ {
		if _, err := b.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed circuit, got %s", b.State())
	}
}
