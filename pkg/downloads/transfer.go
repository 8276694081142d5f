package downloads

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/devicegate/devicegate/pkg/common"
)

var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Set-Cookie":          {},
}

// Transfer streams artifacts from their upstream source
type Transfer struct {
	client *http.Client
}

func NewTransfer(client *http.Client) *Transfer {
	if client == nil {
		client = &http.Client{}
	}

	return &Transfer{client: client}
}

func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); len(v) > 0 {
		return v
	}

	return "attachment"
}

// Stream copies the artifact body to w. Errors returned before anything was
// written wrap ErrUnavailable.
func (t *Transfer) Stream(ctx context.Context, w http.ResponseWriter, a *Artifact) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to request artifact", "zone", a.Zone, common.ErrAttr(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.WarnContext(ctx, "Artifact upstream returned error", "zone", a.Zone, "code", resp.StatusCode)
		return fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	}

	header := w.Header()
	for k, values := range resp.Header {
		if _, hop := hopHeaders[k]; hop {
			continue
		}
		for _, v := range values {
			header.Add(k, v)
		}
	}

	header.Set(common.HeaderContentDisposition, contentDisposition(a.DownloadName()))
	header.Set(common.HeaderCacheControl, "no-store")

	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		// headers are already sent, nothing else can be reported to the client
		slog.WarnContext(ctx, "Artifact transfer interrupted", "zone", a.Zone, "bytes", n, common.ErrAttr(err))
		return nil
	}

	slog.DebugContext(ctx, "Transferred artifact", "zone", a.Zone, "bytes", n)

	return nil
}
