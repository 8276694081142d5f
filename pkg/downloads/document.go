package downloads

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/devicegate/devicegate/pkg/common"
	"golang.org/x/net/idna"
)

var (
	errInvalidZone   = errors.New("zone must be positive")
	errInvalidURL    = errors.New("url must be absolute http(s)")
	errDuplicateZone = errors.New("duplicate zone")
)

// Artifact is one downloadable package
type Artifact struct {
	Zone     int    `json:"zone"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// DownloadName is the file name presented to clients
func (a *Artifact) DownloadName() string {
	name := sanitizeFilename(a.Filename)
	if len(name) > 0 {
		return name
	}

	var ext string
	if u, err := url.Parse(a.URL); err == nil {
		ext = path.Ext(u.Path)
	}

	name = strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, a.Name))

	name = sanitizeFilename(name)
	if len(name) == 0 {
		name = "download"
	}

	if len(ext) > 0 && !strings.HasSuffix(name, strings.ToLower(ext)) {
		name += ext
	}

	return name
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/', r == '\\', r == '"', unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, name)
	return strings.Trim(name, ".")
}

// Document maps zones to artifacts
type Document struct {
	Downloads []*Artifact `json:"downloads"`
	byZone    map[int]*Artifact
}

func (d *Document) Find(zone int) (*Artifact, bool) {
	a, ok := d.byZone[zone]
	return a, ok
}

func (d *Document) Len() int {
	return len(d.byZone)
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	if (u.Scheme != "http" && u.Scheme != "https") || len(u.Host) == 0 {
		return "", errInvalidURL
	}

	host, port := u.Hostname(), u.Port()

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}

	if len(port) > 0 {
		u.Host = net.JoinHostPort(ascii, port)
	} else {
		u.Host = ascii
	}

	return u.String(), nil
}

func validate(a *Artifact) error {
	if a.Zone <= 0 {
		return errInvalidZone
	}

	normalized, err := normalizeURL(a.URL)
	if err != nil {
		return err
	}

	a.URL = normalized

	return nil
}

// ParseDocument decodes the downloads document skipping invalid entries
func ParseDocument(data []byte) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}

	doc.byZone = make(map[int]*Artifact, len(doc.Downloads))
	valid := doc.Downloads[:0]

	for i, a := range doc.Downloads {
		if a == nil {
			continue
		}

		if err := validate(a); err != nil {
			slog.Warn("Skipping invalid download entry", "index", i, "zone", a.Zone, "name", a.Name, common.ErrAttr(err))
			continue
		}

		if _, ok := doc.byZone[a.Zone]; ok {
			slog.Warn("Skipping download entry", "index", i, "zone", a.Zone, common.ErrAttr(errDuplicateZone))
			continue
		}

		doc.byZone[a.Zone] = a
		valid = append(valid, a)
	}

	doc.Downloads = valid

	return doc, nil
}
