package enginecache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/datasentinel/internal/db"
)

func TestFetch_Hit(t *testing.T) {
	c, ms := newTestCache(t, 0)
	var gotKey string
	ms.getFn = func(_ context.Context, key string) ([]byte, error) {
		gotKey = key
		return wrap([]byte("plan")), nil
	}

	plan, ok := c.Fetch(context.Background(), "trt10-sm86", "00000000deadbeef")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(plan) != "plan" {
		t.Errorf("unexpected plan %q", plan)
	}
	if gotKey != "datasentinel:engine:trt10-sm86:00000000deadbeef" {
		t.Errorf("unexpected key %q", gotKey)
	}
}

func TestFetch_Miss(t *testing.T) {
	c, _ := newTestCache(t, 0)
	if _, ok := c.Fetch(context.Background(), "t", "f"); ok {
		t.Fatal("expected miss")
	}
}

func TestFetch_StoreErrorIsMiss(t *testing.T) {
	c, ms := newTestCache(t, 0)
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, &db.Error{Op: db.OpGet, Err: context.DeadlineExceeded}
	}
	if _, ok := c.Fetch(context.Background(), "t", "f"); ok {
		t.Fatal("expected miss on store error")
	}
}

func TestFetch_EmptyValueIsMiss(t *testing.T) {
	c, ms := newTestCache(t, 0)
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return []byte{}, nil
	}
	if _, ok := c.Fetch(context.Background(), "t", "f"); ok {
		t.Fatal("expected miss on empty value")
	}
}

func TestPublish_WithTTL(t *testing.T) {
	c, ms := newTestCache(t, 24*time.Hour)
	var gotTTL time.Duration
	ms.setWithTTLFn = func(_ context.Context, _ string, _ []byte, ttl time.Duration) error {
		gotTTL = ttl
		return nil
	}
	ms.setFn = func(_ context.Context, _ string, _ []byte) error {
		t.Error("Set must not be called when ttl is configured")
		return nil
	}

	c.Publish(context.Background(), "t", "f", []byte("plan"))
	if gotTTL != 24*time.Hour {
		t.Errorf("expected ttl 24h, got %v", gotTTL)
	}
}

func TestPublish_WithoutTTL(t *testing.T) {
	c, ms := newTestCache(t, 0)
	var setCalled bool
	ms.setFn = func(_ context.Context, key string, value []byte) error {
		setCalled = true
		if key != "datasentinel:engine:t:f" {
			t.Errorf("unexpected key %q", key)
		}
		plan, err := unwrap(value)
		if err != nil || string(plan) != "plan" {
			t.Errorf("unexpected value %q: %v", value, err)
		}
		return nil
	}

	c.Publish(context.Background(), "t", "f", []byte("plan"))
	if !setCalled {
		t.Fatal("expected Set to be called")
	}
}

func TestPublish_ErrorIsSwallowed(t *testing.T) {
	c, ms := newTestCache(t, 0)
	ms.setFn = func(_ context.Context, _ string, _ []byte) error {
		return errors.New("connection reset")
	}
	// Must not panic or propagate.
	c.Publish(context.Background(), "t", "f", []byte("plan"))
}

func TestFetch_CorruptValueIsMiss(t *testing.T) {
	good := wrap([]byte("serialized-plan"))

	truncated := good[:len(good)-3]
	flipped := append([]byte(nil), good...)
	flipped[len(flipped)-1] ^= 0xff
	legacy := []byte("serialized-plan")

	for name, value := range map[string][]byte{
		"truncated":   truncated,
		"bit flip":    flipped,
		"no header":   legacy,
		"header only": wrap(nil),
	} {
		t.Run(name, func(t *testing.T) {
			c, ms := newTestCache(t, 0)
			ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
				return value, nil
			}
			if plan, ok := c.Fetch(context.Background(), "t", "f"); ok {
				t.Fatalf("expected miss, got %q", plan)
			}
		})
	}
}

func TestPublishThenFetch_RoundTrip(t *testing.T) {
	c, ms := newTestCache(t, 0)
	stored := map[string][]byte{}
	ms.setFn = func(_ context.Context, key string, value []byte) error {
		stored[key] = value
		return nil
	}
	ms.getFn = func(_ context.Context, key string) ([]byte, error) {
		v, ok := stored[key]
		if !ok {
			return nil, db.ErrKeyNotFound
		}
		return v, nil
	}

	c.Publish(context.Background(), "trt10-sm86", "abc", []byte{0, 1, 2, 255})
	plan, ok := c.Fetch(context.Background(), "trt10-sm86", "abc")
	if !ok || !bytes.Equal(plan, []byte{0, 1, 2, 255}) {
		t.Fatalf("expected stored plan, got %v, %v", plan, ok)
	}
}
