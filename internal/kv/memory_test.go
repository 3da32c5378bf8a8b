package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorage_GetSetDelete(t *testing.T) {
	s := NewMemoryStorage()

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want false, nil", ok, err)
	}

	if err := s.Set("k", []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := s.Get("k")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get(k) = %q, %v, %v; want v1, true, nil", v, ok, err)
	}

	// The returned slice must not alias stored data.
	v[0] = 'x'
	v, _, _ = s.Get("k")
	if string(v) != "v1" {
		t.Errorf("stored value mutated through returned slice: %q", v)
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("key still present after Delete")
	}
	if err := s.Delete("k"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestMemoryStorage_Watch(t *testing.T) {
	t.Run("notifies on set", func(t *testing.T) {
		s := NewMemoryStorage()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := s.Watch(ctx, "k")
		if err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
		s.Set("other", []byte("ignored"))
		s.Set("k", []byte("v1"))

		select {
		case v := <-ch:
			if string(v) != "v1" {
				t.Errorf("got %q, want v1", v)
			}
		case <-time.After(time.Second):
			t.Fatal("no notification")
		}
	})

	t.Run("slow watcher gets latest value", func(t *testing.T) {
		s := NewMemoryStorage()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, _ := s.Watch(ctx, "k")
		s.Set("k", []byte("v1"))
		s.Set("k", []byte("v2"))
		s.Set("k", []byte("v3"))

		v := <-ch
		if string(v) != "v3" {
			t.Errorf("got %q, want v3", v)
		}
		select {
		case v := <-ch:
			t.Errorf("unexpected extra notification %q", v)
		default:
		}
	})

	t.Run("channel closes with context", func(t *testing.T) {
		s := NewMemoryStorage()
		ctx, cancel := context.WithCancel(context.Background())
		ch, _ := s.Watch(ctx, "k")
		cancel()

		select {
		case _, ok := <-ch:
			if ok {
				t.Error("expected closed channel")
			}
		case <-time.After(time.Second):
			t.Fatal("channel not closed after cancel")
		}
	})
}
