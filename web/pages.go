package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/devicegate/devicegate/pkg/common"
)

const (
	layoutsDir   = "layouts"
	baseLayout   = layoutsDir + "/_default/base.html"
	conflictPage = "conflict"
	// every page file defines its body in terms of the base layout
	pageTemplate = "page.html"
)

var errPageNotFound = errors.New("page with such name does not exist")

//go:embed static
var staticFiles embed.FS

func Static() http.HandlerFunc {
	sub, _ := fs.Sub(staticFiles, "static")
	srv := http.FileServer(http.FS(sub))

	return func(w http.ResponseWriter, r *http.Request) {
		slog.DebugContext(r.Context(), "Static request", "path", r.URL.Path)
		common.WriteHeaders(w, common.CachedHeaders)
		srv.ServeHTTP(w, r)
	}
}

//go:embed layouts/*/*.html
var layoutFiles embed.FS

// Layout is what the base layout needs from every page
type Layout struct {
	StaticPrefix string
	SupportURL   string
}

// ConflictPage explains that the device quota of a link is used up
type ConflictPage struct {
	Layout
	MaxDevices int
}

// Pages holds the parsed user facing pages of the gate
type Pages struct {
	pages map[string]*template.Template
}

var pageFuncs = template.FuncMap{
	"plural": func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	},
}

func NewPages(ctx context.Context) (*Pages, error) {
	pages := make(map[string]*template.Template)

	for _, name := range []string{conflictPage} {
		files := []string{baseLayout, layoutsDir + "/" + name + "/" + pageTemplate}
		slog.Log(ctx, common.LevelTrace, "Parsing page", "name", name, "files", files)

		t, err := template.New(name).Funcs(pageFuncs).ParseFS(layoutFiles, files...)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to parse page", "name", name, common.ErrAttr(err))
			return nil, fmt.Errorf("failed to parse %s page: %w", name, err)
		}

		pages[name] = t
	}

	return &Pages{pages: pages}, nil
}

// render writes nothing unless the page executed completely
func (p *Pages) render(ctx context.Context, w io.Writer, name string, data any) error {
	t, ok := p.pages[name]
	if !ok {
		return errPageNotFound
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, pageTemplate, data); err != nil {
		slog.ErrorContext(ctx, "Failed to execute page", "name", name, common.ErrAttr(err))
		return err
	}

	_, err := buf.WriteTo(w)
	return err
}

func (p *Pages) RenderConflict(ctx context.Context, w io.Writer, data *ConflictPage) error {
	return p.render(ctx, w, conflictPage, data)
}
