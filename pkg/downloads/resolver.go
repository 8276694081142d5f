package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/singleflight"
)

const (
	documentKey     = "downloads"
	maxDocumentSize = 1 << 20
	fetchAttempts   = 3
	fetchTimeout    = 10 * time.Second
)

var (
	ErrZoneNotFound = errors.New("zone not found")
	ErrUnavailable  = errors.New("downloads unavailable")
)

// Resolver looks artifacts up in the remote downloads document
type Resolver struct {
	url     string
	client  *http.Client
	cache   common.Cache[string, *Document]
	group   singleflight.Group
	stale   atomic.Pointer[Document]
	backoff backoff.Backoff
}

func NewResolver(documentURL string, cache common.Cache[string, *Document], client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	return &Resolver{
		url:    documentURL,
		client: client,
		cache:  cache,
		backoff: backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (r *Resolver) fetchOnce(ctx context.Context) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set(common.HeaderAccept, common.ContentTypeJSON)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, err
	}

	return ParseDocument(data)
}

func (r *Resolver) fetch(ctx context.Context) (*Document, error) {
	b := r.backoff

	var err error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		var doc *Document
		if doc, err = r.fetchOnce(ctx); err == nil {
			slog.DebugContext(ctx, "Fetched downloads document", "entries", doc.Len(), "attempt", attempt)
			return doc, nil
		}

		slog.WarnContext(ctx, "Failed to fetch downloads document", "attempt", attempt, common.ErrAttr(err))
	}

	return nil, err
}

func (r *Resolver) refresh(ctx context.Context) (*Document, bool, error) {
	v, err, shared := r.group.Do(documentKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		doc, err := r.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}

		r.stale.Store(doc)
		_ = r.cache.Set(ctx, documentKey, doc)

		return doc, nil
	})

	if err != nil {
		return nil, shared, err
	}

	return v.(*Document), shared, nil
}

// Refresh fetches the document regardless of the cache state
func (r *Resolver) Refresh(ctx context.Context) error {
	if _, _, err := r.refresh(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Document returns the cached downloads document, refreshing it if expired.
// When a refresh fails the last good copy is served.
func (r *Resolver) Document(ctx context.Context) (*Document, error) {
	if doc, err := r.cache.Get(ctx, documentKey); err == nil {
		return doc, nil
	}

	doc, shared, err := r.refresh(ctx)
	if err == nil {
		slog.Log(ctx, common.LevelTrace, "Resolved downloads document", "shared", shared)
		return doc, nil
	}

	if stale := r.stale.Load(); stale != nil {
		slog.WarnContext(ctx, "Serving stale downloads document", common.ErrAttr(err))
		_ = r.cache.Set(ctx, documentKey, stale)
		return stale, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *Resolver) Lookup(ctx context.Context, zone int) (*Artifact, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, err
	}

	artifact, ok := doc.Find(zone)
	if !ok {
		return nil, ErrZoneNotFound
	}

	return artifact, nil
}
