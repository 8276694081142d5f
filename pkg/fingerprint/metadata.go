package fingerprint

import (
	"net/http"
	"strings"

	"github.com/devicegate/devicegate/pkg/common"
)

const unknown = "unknown"

// Metadata is the subset of request headers fingerprints are derived from
type Metadata struct {
	UserAgent      string
	AcceptLanguage string
	Accept         string
	ModelHint      string
	PlatformHint   string
	DeviceID       string
}

// MetadataFromRequest collects headers from r. deviceIDHeader is optional.
func MetadataFromRequest(r *http.Request, deviceIDHeader string) *Metadata {
	md := &Metadata{
		UserAgent:      r.Header.Get(common.HeaderUserAgent),
		AcceptLanguage: r.Header.Get(common.HeaderAcceptLanguage),
		Accept:         r.Header.Get(common.HeaderAccept),
		ModelHint:      unquoteHint(r.Header.Get(common.HeaderClientHintModel)),
		PlatformHint:   unquoteHint(r.Header.Get(common.HeaderClientHintPlatform)),
	}

	if len(deviceIDHeader) > 0 {
		md.DeviceID = strings.TrimSpace(r.Header.Get(deviceIDHeader))
	}

	return md
}

// structured header strings arrive quoted, e.g. "Pixel 7"
func unquoteHint(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "\"")
	value = strings.TrimSuffix(value, "\"")
	return strings.TrimSpace(value)
}

func orUnknown(value string) string {
	if len(value) == 0 {
		return unknown
	}
	return value
}
