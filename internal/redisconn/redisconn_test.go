package redisconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	for _, input := range []string{"redis://" + mr.Addr() + "/0", mr.Addr()} {
		conn, err := Dial(context.Background(), input)
		if err != nil {
			t.Fatalf("dial %q: %v", input, err)
		}
		if !conn.Available() {
			t.Fatalf("dial %q: expected fresh connection to be available", input)
		}
		_ = conn.Close()
	}
	if _, err := Dial(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty url")
	}

	addr := mr.Addr()
	mr.Close()
	if _, err := Dial(context.Background(), addr); err == nil {
		t.Fatalf("expected ping failure against a stopped server")
	}
}

func TestBreaker_CooldownAndReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerCooldown, func() time.Time { return now })

	if b.Open() {
		t.Fatalf("expected new breaker to be closed")
	}
	b.Trip(nil, "test")
	if b.Open() {
		t.Fatalf("expected nil error not to trip")
	}
	b.Trip(errors.New("boom"), "test")
	if !b.Open() {
		t.Fatalf("expected breaker open after error")
	}

	// A second error inside the cooldown does not extend it.
	now = now.Add(BreakerCooldown / 2)
	b.Trip(errors.New("again"), "test")
	now = now.Add(BreakerCooldown / 2)
	if b.Open() {
		t.Fatalf("expected breaker closed after cooldown")
	}

	var nilBreaker *Breaker
	nilBreaker.Trip(errors.New("boom"), "test")
	if nilBreaker.Open() {
		t.Fatalf("expected nil breaker to stay closed")
	}
}

func TestKey(t *testing.T) {
	if got := Key("", "license:LIC-AAAA-BBBB-CCCC"); got != "license:LIC-AAAA-BBBB-CCCC" {
		t.Fatalf("unexpected unprefixed key %q", got)
	}
	if got := Key(" lg ", "ratelimit:verify:1.2.3.4:9"); got != "lg:ratelimit:verify:1.2.3.4:9" {
		t.Fatalf("unexpected prefixed key %q", got)
	}
}
