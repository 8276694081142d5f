package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/db"
)

const testDocument = `{"downloads":[
	{"zone":1,"name":"App Mobile","url":"https://cdn.example.com/files/app-mobile.apk"},
	{"zone":2,"name":"App TV","url":"https://cdn.example.com/files/tv.apk","filename":"app-tv.apk"},
	{"zone":0,"name":"Broken","url":"https://cdn.example.com/broken.apk"},
	{"zone":3,"name":"Relative","url":"/files/relative.apk"},
	{"zone":4,"name":"Ftp","url":"ftp://cdn.example.com/app.apk"},
	{"zone":1,"name":"Duplicate","url":"https://other.example.com/dup.apk"},
	{"zone":5,"name":"Unicode","url":"https://бюро.example:8443/app.apk"}
]}`

// mapCache is a controllable cache for tests
type mapCache struct {
	lock  sync.Mutex
	items map[string]*Document
}

func newMapCache() *mapCache {
	return &mapCache{items: make(map[string]*Document)}
}

var _ common.Cache[string, *Document] = (*mapCache)(nil)

func (c *mapCache) Get(ctx context.Context, key string) (*Document, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if d, ok := c.items[key]; ok {
		return d, nil
	}

	return nil, db.ErrCacheMiss
}

func (c *mapCache) SetMissing(ctx context.Context, key string) error { return nil }

func (c *mapCache) Set(ctx context.Context, key string, t *Document) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.items[key] = t
	return nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.items, key)
	return nil
}

type documentServer struct {
	*httptest.Server
	hits    atomic.Int32
	failing atomic.Bool
}

func newDocumentServer(t *testing.T, body string) *documentServer {
	ds := &documentServer{}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds.hits.Add(1)
		if ds.failing.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		w.Header().Set(common.HeaderContentType, common.ContentTypeJSON)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ds.Close)
	return ds
}

func newTestResolver(url string, cache common.Cache[string, *Document]) *Resolver {
	r := NewResolver(url, cache, nil)
	r.backoff.Min = time.Millisecond
	r.backoff.Max = 2 * time.Millisecond
	return r
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(testDocument))
	if err != nil {
		t.Fatal(err)
	}

	if doc.Len() != 3 {
		t.Fatalf("Unexpected number of entries: %v", doc.Len())
	}

	if a, ok := doc.Find(1); !ok || a.Name != "App Mobile" {
		t.Errorf("Unexpected zone 1: %+v", a)
	}

	for _, zone := range []int{0, 3, 4} {
		if _, ok := doc.Find(zone); ok {
			t.Errorf("Invalid zone %v was accepted", zone)
		}
	}

	a, ok := doc.Find(5)
	if !ok {
		t.Fatal("Unicode host was rejected")
	}

	if !strings.HasPrefix(a.URL, "https://xn--") || !strings.Contains(a.URL, ":8443/app.apk") {
		t.Errorf("Unexpected normalized url: %v", a.URL)
	}

	if _, err := ParseDocument([]byte(`{"downloads":`)); err == nil {
		t.Error("Expected error for malformed document")
	}
}

func TestDownloadName(t *testing.T) {
	testCases := []struct {
		artifact Artifact
		expected string
	}{
		{Artifact{Name: "App TV", URL: "https://x.example/tv.apk", Filename: "app-tv.apk"}, "app-tv.apk"},
		{Artifact{Name: "App Mobile", URL: "https://x.example/files/release.apk"}, "appmobile.apk"},
		{Artifact{Name: "Player.apk", URL: "https://x.example/files/release.apk"}, "player.apk"},
		{Artifact{Name: "", URL: "https://x.example/get"}, "download"},
		{Artifact{Name: "x", URL: "https://x.example/a", Filename: `../"evil"`}, "evil"},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("name_%v", i), func(t *testing.T) {
			if actual := tc.artifact.DownloadName(); actual != tc.expected {
				t.Errorf("Unexpected name %q (expected %q)", actual, tc.expected)
			}
		})
	}
}

func TestResolverCachesDocument(t *testing.T) {
	ds := newDocumentServer(t, testDocument)

	cache, err := db.NewMemoryCache[string, *Document](time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(ds.URL, cache)

	for i := 0; i < 3; i++ {
		a, err := r.Lookup(context.TODO(), 2)
		if err != nil {
			t.Fatal(err)
		}
		if a.Filename != "app-tv.apk" {
			t.Errorf("Unexpected artifact: %+v", a)
		}
	}

	if ds.hits.Load() != 1 {
		t.Errorf("Unexpected number of fetches: %v", ds.hits.Load())
	}

	if _, err := r.Lookup(context.TODO(), 42); !errors.Is(err, ErrZoneNotFound) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestResolverServesStale(t *testing.T) {
	ds := newDocumentServer(t, testDocument)
	cache := newMapCache()
	r := newTestResolver(ds.URL, cache)

	if _, err := r.Lookup(context.TODO(), 1); err != nil {
		t.Fatal(err)
	}

	ds.failing.Store(true)
	_ = cache.Delete(context.TODO(), documentKey)

	if _, err := r.Lookup(context.TODO(), 1); err != nil {
		t.Fatalf("Stale document was not served: %v", err)
	}

	if hits := ds.hits.Load(); hits != 1+fetchAttempts {
		t.Errorf("Unexpected number of fetches: %v", hits)
	}
}

func TestResolverRefreshBypassesCache(t *testing.T) {
	ds := newDocumentServer(t, testDocument)
	cache := newMapCache()
	r := newTestResolver(ds.URL, cache)

	if _, err := r.Lookup(context.TODO(), 1); err != nil {
		t.Fatal(err)
	}

	if err := r.Refresh(context.TODO()); err != nil {
		t.Fatal(err)
	}

	if hits := ds.hits.Load(); hits != 2 {
		t.Errorf("Unexpected number of fetches: %v", hits)
	}

	ds.failing.Store(true)
	if err := r.Refresh(context.TODO()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Unexpected error: %v", err)
	}

	// failed refresh keeps the cached copy
	if _, err := r.Lookup(context.TODO(), 1); err != nil {
		t.Errorf("Cached document was lost: %v", err)
	}
}

func TestResolverUnavailable(t *testing.T) {
	ds := newDocumentServer(t, testDocument)
	ds.failing.Store(true)

	r := newTestResolver(ds.URL, newMapCache())

	if _, err := r.Lookup(context.TODO(), 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Unexpected error: %v", err)
	}

	if hits := ds.hits.Load(); hits != fetchAttempts {
		t.Errorf("Unexpected number of fetches: %v", hits)
	}
}

func TestTransfer(t *testing.T) {
	const payload = "APK-BYTES"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/tv.apk" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set(common.HeaderContentType, "application/vnd.android.package-archive")
		w.Header().Set(common.HeaderContentDisposition, "inline")
		w.Header().Set(common.HeaderCacheControl, "public, max-age=3600")
		w.Header().Set("Set-Cookie", "session=upstream")
		w.Header().Set("ETag", `"abc"`)
		fmt.Fprint(w, payload)
	}))
	defer upstream.Close()

	transfer := NewTransfer(upstream.Client())
	artifact := &Artifact{Zone: 2, Name: "App TV", URL: upstream.URL + "/files/tv.apk", Filename: "app-tv.apk"}

	w := httptest.NewRecorder()
	if err := transfer.Stream(context.TODO(), w, artifact); err != nil {
		t.Fatal(err)
	}

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if string(body) != payload {
		t.Errorf("Unexpected body: %s", body)
	}

	if v := resp.Header.Get(common.HeaderContentDisposition); v != "attachment; filename=app-tv.apk" {
		t.Errorf("Unexpected Content-Disposition: %v", v)
	}

	if v := resp.Header.Get(common.HeaderCacheControl); v != "no-store" {
		t.Errorf("Unexpected Cache-Control: %v", v)
	}

	if v := resp.Header.Get("ETag"); v != `"abc"` {
		t.Errorf("Upstream header was not relayed: %v", v)
	}

	if len(resp.Header.Values("Set-Cookie")) > 0 {
		t.Error("Set-Cookie was relayed")
	}
}

func TestTransferUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	transfer := NewTransfer(upstream.Client())
	w := httptest.NewRecorder()

	err := transfer.Stream(context.TODO(), w, &Artifact{Zone: 1, URL: upstream.URL + "/missing.apk"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Unexpected error: %v", err)
	}

	if w.Body.Len() > 0 {
		t.Error("Body was written on error")
	}
}
