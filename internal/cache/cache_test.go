package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDigestStability(t *testing.T) {
	a := Digest(StringsKey("rake", "13.3.0"))
	b := Digest(StringsKey("rake", "13.3.0"))
	c := Digest(StringsKey("rake", "13.4.0"))
	if a != b {
		t.Errorf("same key hashed differently: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different keys collided")
	}
}

func TestDigestWidthTagged(t *testing.T) {
	k32 := KeyFunc(func(h *Hasher) { h.Uint32(42) })
	k64 := KeyFunc(func(h *Hasher) { h.Uint64(42) })
	if Digest(k32) == Digest(k64) {
		t.Error("u32 and u64 of the same value must hash differently")
	}
}

func TestDigestLengthPrefixed(t *testing.T) {
	// Without length prefixes these two tuples would concatenate to the
	// same byte stream.
	a := Digest(StringsKey("ab", "c"))
	b := Digest(StringsKey("a", "bc"))
	if a == b {
		t.Error("tuple boundary reshuffle collided")
	}
}

func TestDigestOption(t *testing.T) {
	some := KeyFunc(func(h *Hasher) { h.Option(true); h.String("x") })
	none := KeyFunc(func(h *Hasher) { h.Option(false) })
	if Digest(some) == Digest(none) {
		t.Error("some and none must hash differently")
	}
}

func TestDigestSequence(t *testing.T) {
	a := Digest(KeyFunc(func(h *Hasher) { h.Strings([]string{"a", "b", "c"}) }))
	b := Digest(KeyFunc(func(h *Hasher) { h.Strings([]string{"a", "b"}) }))
	if a == b {
		t.Error("sequences of different length collided")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	c := New(t.TempDir())
	digest := Digest(StringsKey("entry"))

	if _, ok, err := c.Read(BucketGem, digest); ok || err != nil {
		t.Fatalf("Read before write = %v, %v", ok, err)
	}

	path, err := c.Write(BucketGem, digest, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(path, "gem-v1") {
		t.Errorf("path = %q, want bucket dir with schema version", path)
	}

	body, ok, err := c.Read(BucketGem, digest)
	if err != nil || !ok || string(body) != "payload" {
		t.Fatalf("Read = %q, %v, %v", body, ok, err)
	}

	// Idempotent: a second write reuses the entry.
	if _, err := c.Write(BucketGem, digest, []byte("different")); err != nil {
		t.Fatal(err)
	}
	body, _, _ = c.Read(BucketGem, digest)
	if string(body) != "payload" {
		t.Errorf("second write replaced content: %q", body)
	}
}

func TestAbortLeavesNoEntry(t *testing.T) {
	c := New(t.TempDir())
	digest := Digest(StringsKey("aborted"))

	pending, err := c.StartWrite(BucketGem, digest)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pending.Write([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	pending.Abort()

	if c.Contains(BucketGem, digest) {
		t.Error("aborted write left an entry")
	}
	if _, err := os.Stat(c.EntryPath(BucketGem, digest) + ".tmp"); !os.IsNotExist(err) {
		t.Error("aborted write left a .tmp file")
	}
}

func TestCrashedWriterCleanedUp(t *testing.T) {
	c := New(t.TempDir())
	digest := Digest(StringsKey("crashed"))

	// Simulate a writer killed mid-write: only the .tmp exists.
	pending, err := c.StartWrite(BucketGem, digest)
	if err != nil {
		t.Fatal(err)
	}
	pending.Write([]byte("par"))
	// No Commit, no Abort: the process died.

	if c.Contains(BucketGem, digest) {
		t.Fatal("no final entry may exist after a crash")
	}
	if err := c.CleanStaleTemp(BucketGem); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(c.EntryPath(BucketGem, digest) + ".tmp"); !os.IsNotExist(err) {
		t.Error("stale .tmp survived cleanup")
	}
}

func TestConcurrentWriters(t *testing.T) {
	c := New(t.TempDir())
	digest := Digest(StringsKey("contended"))
	content := []byte("identical content from every writer")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pending, err := c.StartWrite(BucketGem, digest)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := pending.Write(content); err != nil {
				t.Error(err)
				return
			}
			if err := pending.Commit(); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	body, ok, err := c.Read(BucketGem, digest)
	if err != nil || !ok || !bytes.Equal(body, content) {
		t.Fatalf("Read after concurrent writes = %q, %v, %v", body, ok, err)
	}
}

func TestDisabledCacheMisses(t *testing.T) {
	t.Setenv(DisableEnv, "1")
	c := New(t.TempDir())
	digest := Digest(StringsKey("x"))
	if _, err := c.Write(BucketGem, digest, []byte("y")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Read(BucketGem, digest); ok {
		t.Error("disabled cache should always miss")
	}
}

func TestRmRf(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "tree")
	if err := os.MkdirAll(filepath.Join(target, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(target, "a.txt"), []byte("12345"), 0o644)
	os.WriteFile(filepath.Join(target, "sub", "b.txt"), []byte("123"), 0o644)

	removal, err := RmRf(target)
	if err != nil {
		t.Fatal(err)
	}
	if removal.Dirs != 2 {
		t.Errorf("Dirs = %d, want 2", removal.Dirs)
	}
	if removal.Bytes != 8 {
		t.Errorf("Bytes = %d, want 8", removal.Bytes)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("target still exists")
	}

	// Missing paths are fine.
	removal, err = RmRf(filepath.Join(root, "nope"))
	if err != nil || !removal.IsEmpty() {
		t.Errorf("RmRf(missing) = %v, %v", removal, err)
	}
}

func TestRemovalDisplay(t *testing.T) {
	for _, tt := range []struct {
		in   Removal
		want string
	}{
		{Removal{}, "No cache entries removed"},
		{Removal{Bytes: 500}, "Removed 500 bytes"},
		{Removal{Dirs: 3}, "Removed 3 directories"},
		{Removal{Dirs: 2, Bytes: 1024}, "Removed 2 directories (1024 bytes)"},
	} {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestGetHTTPFreshAndRevalidate(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Cache-Control", "max-age=120")
		w.Write([]byte("release data"))
	}))
	defer server.Close()

	c := New(t.TempDir())
	key := StringsKey("releases", server.URL)

	body, stale, err := c.GetHTTP(context.Background(), server.Client(), BucketReleases, key, server.URL)
	if err != nil || stale || string(body) != "release data" {
		t.Fatalf("first GetHTTP = %q, %v, %v", body, stale, err)
	}
	if requests != 1 {
		t.Fatalf("requests = %d", requests)
	}

	// Within the TTL no request is made.
	body, _, err = c.GetHTTP(context.Background(), server.Client(), BucketReleases, key, server.URL)
	if err != nil || string(body) != "release data" {
		t.Fatal(err)
	}
	if requests != 1 {
		t.Errorf("fresh entry still hit the network (%d requests)", requests)
	}
}

func TestGetHTTPStaleFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("stale but served"))
	}))

	c := New(t.TempDir())
	key := StringsKey("releases", "stale-test")

	if _, _, err := c.GetHTTP(context.Background(), server.Client(), BucketReleases, key, server.URL); err != nil {
		t.Fatal(err)
	}

	// Expire the entry by rewriting it with a past deadline, then kill the
	// server: the stale body must come back with the stale flag.
	digest := Digest(key)
	raw, ok, err := c.Read(BucketReleases, digest)
	if err != nil || !ok {
		t.Fatal("entry missing")
	}
	var entry HTTPEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatal(err)
	}
	entry.ExpiresAt = time.Now().Add(-time.Hour)
	expired, err := json.Marshal(entry)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.EntryPath(BucketReleases, digest), expired, 0o644); err != nil {
		t.Fatal(err)
	}
	url := server.URL
	server.Close()

	body, stale, err := c.GetHTTP(context.Background(), http.DefaultClient, BucketReleases, key, url)
	if err != nil {
		t.Fatalf("GetHTTP after server death = %v", err)
	}
	if !stale || string(body) != "stale but served" {
		t.Errorf("stale fallback = %q, stale=%v", body, stale)
	}
}
