package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/agen-co/agenshield/internal/domain/event"
	"github.com/agen-co/agenshield/internal/domain/policy"
)

func noPolicies() []policy.Policy { return nil }
func defaultAllow() policy.Action { return policy.ActionAllow }

func newTestPool(max int, idle time.Duration, t *testing.T) (*Pool, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	pool := NewPool(max, idle, bus, testLogger())
	t.Cleanup(func() {
		pool.Shutdown()
		bus.Close()
	})
	return pool, bus
}

func TestAcquireAtMostOnePerExec(t *testing.T) {
	pool, _ := newTestPool(10, time.Minute, t)

	port1, err := pool.Acquire("e1", "curl", noPolicies, defaultAllow)
	if err != nil {
		t.Fatal(err)
	}
	port2, err := pool.Acquire("e1", "curl", noPolicies, defaultAllow)
	if err != nil {
		t.Fatal(err)
	}
	if port1 != port2 {
		t.Errorf("re-acquire returned %d, want existing port %d", port2, port1)
	}
	if pool.Size() != 1 {
		t.Errorf("size = %d, want 1", pool.Size())
	}
}

func TestAcquireEvictsOldestAtCapacity(t *testing.T) {
	pool, _ := newTestPool(2, time.Minute, t)

	if _, err := pool.Acquire("e1", "curl", noPolicies, defaultAllow); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := pool.Acquire("e2", "git", noPolicies, defaultAllow); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	// Touch e1 so e2 becomes the oldest.
	if _, err := pool.Acquire("e1", "curl", noPolicies, defaultAllow); err != nil {
		t.Fatal(err)
	}

	if _, err := pool.Acquire("e3", "npm", noPolicies, defaultAllow); err != nil {
		t.Fatal(err)
	}
	if pool.Size() != 2 {
		t.Fatalf("size = %d, want capacity 2", pool.Size())
	}

	pool.mu.Lock()
	_, e1Alive := pool.entries["e1"]
	_, e2Alive := pool.entries["e2"]
	_, e3Alive := pool.entries["e3"]
	pool.mu.Unlock()
	if !e1Alive || e2Alive || !e3Alive {
		t.Errorf("entries after eviction: e1=%v e2=%v e3=%v, want e2 evicted", e1Alive, e2Alive, e3Alive)
	}
}

func TestReleaseRemovesEntry(t *testing.T) {
	pool, _ := newTestPool(10, time.Minute, t)

	if _, err := pool.Acquire("e1", "curl", noPolicies, defaultAllow); err != nil {
		t.Fatal(err)
	}
	pool.Release("e1")
	pool.Release("e1") // idempotent
	if pool.Size() != 0 {
		t.Errorf("size = %d after release", pool.Size())
	}
}

func TestIdleTimeoutReleases(t *testing.T) {
	pool, _ := newTestPool(10, 50*time.Millisecond, t)

	if _, err := pool.Acquire("e1", "curl", noPolicies, defaultAllow); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle proxy never released")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRequestActivityResetsIdleTimer(t *testing.T) {
	pool, _ := newTestPool(10, 400*time.Millisecond, t)

	port, err := pool.Acquire("e1", "curl", noPolicies, defaultAllow)
	if err != nil {
		t.Fatal(err)
	}

	proxyURL, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	tr := &http.Transport{Proxy: http.ProxyURL(proxyURL), DisableKeepAlives: true}
	defer tr.CloseIdleConnections()
	client := &http.Client{Transport: tr, Timeout: 2 * time.Second}

	// Keep traffic flowing past the idle timeout; the proxy must survive.
	// The requests are denied by the plain-HTTP precheck, which still
	// counts as activity and never dials out.
	for i := 0; i < 6; i++ {
		resp, err := client.Get("http://activity.example.com")
		if err == nil {
			resp.Body.Close()
		}
		time.Sleep(150 * time.Millisecond)
	}
	if pool.Size() != 1 {
		t.Error("active proxy was idle-released")
	}
}

func TestShutdown(t *testing.T) {
	pool, _ := newTestPool(10, time.Minute, t)

	for _, id := range []string{"e1", "e2", "e3"} {
		if _, err := pool.Acquire(id, "curl", noPolicies, defaultAllow); err != nil {
			t.Fatal(err)
		}
	}
	pool.Shutdown()
	if pool.Size() != 0 {
		t.Errorf("size = %d after shutdown", pool.Size())
	}
	if _, err := pool.Acquire("e4", "curl", noPolicies, defaultAllow); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("acquire after shutdown = %v, want ErrPoolClosed", err)
	}
}
