package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"tenxpipeline/internal/blob/core"
)

func TestStoreBasicFlow(t *testing.T) {
	s := New()
	ctx := context.Background()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver")
	}
	if _, err := s.Put(ctx, "a/b.txt", bytes.NewReader([]byte("one")), core.PutOptions{Metadata: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := s.Put(ctx, "a/b.txt", bytes.NewReader([]byte("second")), core.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if info.Size != 6 || info.ContentType != "text/plain" || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	_, rc, err := s.Get(ctx, "a/b.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "second" {
		t.Fatalf("expected overwritten content, got %q", data)
	}
	_, _ = s.Put(ctx, "a/c.txt", bytes.NewReader(nil), core.PutOptions{})
	_, _ = s.Put(ctx, "z.txt", bytes.NewReader(nil), core.PutOptions{})
	list, _ := s.List(ctx, "a/")
	if len(list) != 2 || list[0].Key != "a/b.txt" || list[1].Key != "a/c.txt" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, _ := s.Delete(ctx, "a/b.txt"); !ok {
		t.Fatalf("expected delete to report existing")
	}
	if ok, _ := s.Delete(ctx, "a/b.txt"); ok {
		t.Fatalf("expected second delete to report missing")
	}
}

func TestStoreMissingAndInvalid(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := s.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := s.Put(ctx, " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}
