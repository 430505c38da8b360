package stub

import (
	"net/netip"
	"testing"
	"time"
)

func mustParseAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse addr: %v", err)
	}
	return a
}

func TestTokenBucketAllowsBurstThenDenies(t *testing.T) {
	l := NewTokenBucketRateLimiter(TokenBucketConfig{Rate: 1, Burst: 2, CleanupInterval: time.Minute, MaxEntries: 10})
	if !l.Allow("a") {
		t.Fatal("first request should be allowed")
	}
	if !l.Allow("a") {
		t.Fatal("second request within burst should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("third immediate request should be denied")
	}
}

func TestTokenBucketDisabledWhenRateOrBurstNonPositive(t *testing.T) {
	l := NewTokenBucketRateLimiter(TokenBucketConfig{Rate: 0, Burst: 0})
	for range 100 {
		if !l.Allow("x") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestPrefixKeyFromAddrIPv4Is24(t *testing.T) {
	addr := mustParseAddr(t, "203.0.113.9")
	if got := prefixKeyFromAddr(addr); got != "203.0.113.0/24" {
		t.Fatalf("got %q", got)
	}
}
