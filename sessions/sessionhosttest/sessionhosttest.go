package sessionhosttest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-tasks-go/sessions"
)

// HostFactory creates a new SessionHost instance for testing.
type HostFactory func(t *testing.T) sessions.SessionHost

// RunSessionHostTests runs the complete SessionHost test suite against the provided factory.
func RunSessionHostTests(t *testing.T, factory HostFactory) {
	t.Run("Lifecycle_CreateExistsDelete", func(t *testing.T) { testLifecycle(t, factory) })
	t.Run("Lifecycle_ListSessionsPaginates", func(t *testing.T) { testListSessions(t, factory) })
	t.Run("Lifecycle_DeleteRemovesValues", func(t *testing.T) { testDeleteRemovesValues(t, factory) })

	t.Run("Values_MissingSessionIsNotAnError", func(t *testing.T) { testMissingSession(t, factory) })
	t.Run("Values_SetGetDelete", func(t *testing.T) { testSetGetDelete(t, factory) })
	t.Run("Values_IsolationBetweenSessions", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("Values_ListByKindPaginates", func(t *testing.T) { testListValues(t, factory) })

	t.Run("Compute_ReturnsClosureResult", func(t *testing.T) { testComputeResult(t, factory) })
	t.Run("Compute_DeleteWhenNotKept", func(t *testing.T) { testComputeDelete(t, factory) })
	t.Run("Compute_ConcurrentIncrementsAreNotLost", func(t *testing.T) { testComputeConcurrent(t, factory) })

	t.Run("Changes_VersionAdvancesOnMutation", func(t *testing.T) { testVersionAdvances(t, factory) })
	t.Run("Changes_WaitConditionWakesOnAnyKey", func(t *testing.T) { testWaitConditionWakes(t, factory) })
	t.Run("Changes_WaitConditionTimesOut", func(t *testing.T) { testWaitConditionTimeout(t, factory) })
	t.Run("Changes_WaitConditionEndsWhenSessionDeleted", func(t *testing.T) { testWaitConditionSessionDeleted(t, factory) })
}

type counter struct {
	N int `msgpack:"n"`
}

var (
	counterKind = sessions.NewKind[counter]("counter")
	labelKind   = sessions.NewKind[string]("label")
)

func newSession(t *testing.T, h sessions.SessionHost, id string) {
	t.Helper()
	if err := h.CreateSession(context.Background(), id); err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
}

// --- Lifecycle tests ---

func testLifecycle(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	ok, err := h.SessionExists(ctx, "sess-1")
	if err != nil || ok {
		t.Fatalf("expected no session before create, got ok=%v err=%v", ok, err)
	}
	newSession(t, h, "sess-1")
	if ok, err := h.SessionExists(ctx, "sess-1"); err != nil || !ok {
		t.Fatalf("expected session after create, got ok=%v err=%v", ok, err)
	}
	deleted, err := h.DeleteSession(ctx, "sess-1")
	if err != nil || !deleted {
		t.Fatalf("expected delete to report true, got %v err=%v", deleted, err)
	}
	deleted, err = h.DeleteSession(ctx, "sess-1")
	if err != nil || deleted {
		t.Fatalf("expected second delete to report false, got %v err=%v", deleted, err)
	}
}

func testListSessions(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		newSession(t, h, fmt.Sprintf("s-%02d", i))
	}

	var all []string
	cursor := ""
	for {
		page, err := h.ListSessions(ctx, 3, cursor)
		if err != nil {
			t.Fatalf("list sessions: %v", err)
		}
		all = append(all, page...)
		if len(page) < 3 {
			break
		}
		cursor = page[len(page)-1]
	}
	if len(all) != 7 {
		t.Fatalf("expected 7 sessions, got %d: %v", len(all), all)
	}
	for i, id := range all {
		if want := fmt.Sprintf("s-%02d", i); id != want {
			t.Fatalf("expected %s at %d, got %s", want, i, id)
		}
	}
}

func testDeleteRemovesValues(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "doomed")

	if _, err := sessions.Set(ctx, h, "doomed", labelKind.Key("a"), "x"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := h.DeleteSession(ctx, "doomed"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Re-creating the id must start empty.
	newSession(t, h, "doomed")
	_, ok, err := sessions.Get(ctx, h, "doomed", labelKind.Key("a"))
	if err != nil || ok {
		t.Fatalf("expected no value after re-create, got ok=%v err=%v", ok, err)
	}
	entries, err := sessions.List(ctx, h, "doomed", labelKind, 10, "")
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty listing after re-create, got %v err=%v", entries, err)
	}
}

// --- Values tests ---

func testMissingSession(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	key := counterKind.Key("c")

	if _, ok, err := sessions.Get(ctx, h, "nope", key); err != nil || ok {
		t.Fatalf("get on missing session: ok=%v err=%v", ok, err)
	}
	if found, err := sessions.Set(ctx, h, "nope", key, counter{N: 1}); err != nil || found {
		t.Fatalf("set on missing session: found=%v err=%v", found, err)
	}
	if deleted, err := sessions.Delete(ctx, h, "nope", key); err != nil || deleted {
		t.Fatalf("delete on missing session: deleted=%v err=%v", deleted, err)
	}
	called := false
	_, found, err := sessions.Compute(ctx, h, "nope", key, func(cur counter, ok bool) (counter, bool, bool) {
		called = true
		return cur, true, true
	})
	if err != nil || found || called {
		t.Fatalf("compute on missing session: found=%v called=%v err=%v", found, called, err)
	}
	if _, ok, err := h.Version(ctx, "nope"); err != nil || ok {
		t.Fatalf("version on missing session: ok=%v err=%v", ok, err)
	}
	// Writes to a missing session must not create it.
	if ok, _ := h.SessionExists(ctx, "nope"); ok {
		t.Fatalf("missing session was created as a side effect")
	}
}

func testSetGetDelete(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")
	key := counterKind.Key("c")

	if found, err := sessions.Set(ctx, h, "s", key, counter{N: 42}); err != nil || !found {
		t.Fatalf("set: found=%v err=%v", found, err)
	}
	got, ok, err := sessions.Get(ctx, h, "s", key)
	if err != nil || !ok || got.N != 42 {
		t.Fatalf("get: got=%+v ok=%v err=%v", got, ok, err)
	}
	if deleted, err := sessions.Delete(ctx, h, "s", key); err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if deleted, err := sessions.Delete(ctx, h, "s", key); err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, err := sessions.Get(ctx, h, "s", key); err != nil || ok {
		t.Fatalf("get after delete: ok=%v err=%v", ok, err)
	}
}

func testIsolation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "a")
	newSession(t, h, "b")

	if _, err := sessions.Set(ctx, h, "a", labelKind.Key("k"), "from-a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := sessions.Get(ctx, h, "b", labelKind.Key("k")); ok {
		t.Fatalf("value leaked across sessions")
	}
	// Same name, different kind.
	if _, ok, _ := sessions.Get(ctx, h, "a", sessions.NewKind[string]("other").Key("k")); ok {
		t.Fatalf("value leaked across kinds")
	}
}

func testListValues(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")

	for i := 0; i < 5; i++ {
		if _, err := sessions.Set(ctx, h, "s", counterKind.Key(fmt.Sprintf("k%d", i)), counter{N: i}); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if _, err := sessions.Set(ctx, h, "s", labelKind.Key("k9"), "not a counter"); err != nil {
		t.Fatalf("set: %v", err)
	}

	first, err := sessions.List(ctx, h, "s", counterKind, 2, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 2 || first[0].Name != "k0" || first[1].Name != "k1" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	rest, err := sessions.List(ctx, h, "s", counterKind, 10, first[1].Name)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rest) != 3 || rest[0].Name != "k2" || rest[2].Value.N != 4 {
		t.Fatalf("unexpected second page: %+v", rest)
	}
}

// --- Compute tests ---

func testComputeResult(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")
	key := counterKind.Key("c")

	prev, found, err := sessions.Compute(ctx, h, "s", key, func(cur counter, ok bool) (counter, bool, string) {
		if ok {
			return cur, true, "existing"
		}
		return counter{N: 1}, true, "created"
	})
	if err != nil || !found || prev != "created" {
		t.Fatalf("first compute: result=%q found=%v err=%v", prev, found, err)
	}
	prev, _, _ = sessions.Compute(ctx, h, "s", key, func(cur counter, ok bool) (counter, bool, string) {
		if ok {
			return counter{N: cur.N + 1}, true, "existing"
		}
		return counter{N: 1}, true, "created"
	})
	if prev != "existing" {
		t.Fatalf("second compute: result=%q", prev)
	}
	got, _, _ := sessions.Get(ctx, h, "s", key)
	if got.N != 2 {
		t.Fatalf("expected N=2, got %d", got.N)
	}
}

func testComputeDelete(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")
	key := counterKind.Key("c")
	_, _ = sessions.Set(ctx, h, "s", key, counter{N: 5})

	_, found, err := sessions.Compute(ctx, h, "s", key, func(cur counter, ok bool) (counter, bool, struct{}) {
		return counter{}, false, struct{}{}
	})
	if err != nil || !found {
		t.Fatalf("compute: found=%v err=%v", found, err)
	}
	if _, ok, _ := sessions.Get(ctx, h, "s", key); ok {
		t.Fatalf("expected key removed")
	}
	entries, _ := sessions.List(ctx, h, "s", counterKind, 10, "")
	if len(entries) != 0 {
		t.Fatalf("expected key removed from listing, got %+v", entries)
	}
}

func testComputeConcurrent(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")
	key := counterKind.Key("c")

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, _, err := sessions.Compute(ctx, h, "s", key, func(cur counter, ok bool) (counter, bool, struct{}) {
					return counter{N: cur.N + 1}, true, struct{}{}
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("compute: %v", err)
	}
	got, _, _ := sessions.Get(ctx, h, "s", key)
	if got.N != workers*perWorker {
		t.Fatalf("lost updates: expected %d, got %d", workers*perWorker, got.N)
	}
}

// --- Change tracking tests ---

func testVersionAdvances(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")

	v0, ok, err := h.Version(ctx, "s")
	if err != nil || !ok {
		t.Fatalf("version: ok=%v err=%v", ok, err)
	}
	_, _ = sessions.Set(ctx, h, "s", labelKind.Key("a"), "x")
	v1, _, _ := h.Version(ctx, "s")
	if v1 == v0 {
		t.Fatalf("expected version to advance after set")
	}
	// AwaitChange returns immediately for a stale version.
	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := h.AwaitChange(cctx, "s", v0); err != nil {
		t.Fatalf("await stale version: %v", err)
	}
}

func testWaitConditionWakes(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")

	go func() {
		time.Sleep(100 * time.Millisecond)
		// Unrelated key first, then the one the condition depends on.
		_, _ = sessions.Set(ctx, h, "s", labelKind.Key("noise"), "n")
		time.Sleep(50 * time.Millisecond)
		_, _ = sessions.Set(ctx, h, "s", labelKind.Key("ready"), "yes")
	}()

	start := time.Now()
	got, ok, err := sessions.WaitCondition(ctx, h, "s", 5*time.Second, func(ctx context.Context) (string, bool, error) {
		return sessions.Get(ctx, h, "s", labelKind.Key("ready"))
	})
	if err != nil || !ok || got != "yes" {
		t.Fatalf("wait: got=%q ok=%v err=%v", got, ok, err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("wait did not wake on change")
	}
}

func testWaitConditionTimeout(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")

	_, ok, err := sessions.WaitCondition(ctx, h, "s", 150*time.Millisecond, func(ctx context.Context) (string, bool, error) {
		return "", false, nil
	})
	if err != nil || ok {
		t.Fatalf("expected timeout as ok=false err=nil, got ok=%v err=%v", ok, err)
	}
}

func testWaitConditionSessionDeleted(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	newSession(t, h, "s")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = h.DeleteSession(ctx, "s")
	}()

	_, ok, err := sessions.WaitCondition(ctx, h, "s", 5*time.Second, func(ctx context.Context) (string, bool, error) {
		return "", false, nil
	})
	if err != nil || ok {
		t.Fatalf("expected ok=false err=nil after delete, got ok=%v err=%v", ok, err)
	}
}
