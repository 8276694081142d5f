package fingerprint

import (
	"regexp"
	"strings"
)

const (
	classTV     = "TV"
	classMobile = "Mobile"
)

var (
	browserTokens = []*regexp.Regexp{
		regexp.MustCompile(`\b(chrome|crios|fxios|firefox|edge|edg|edga|edgios|opr|opera|samsungbrowser|ucbrowser|miuibrowser|yabrowser|version|applewebkit|safari|gecko|mobile)/[\w.]+`),
		regexp.MustCompile(`\(khtml, like gecko\)`),
		regexp.MustCompile(`\bwv\b`),
		regexp.MustCompile(`\bmobile\b`),
	}
	emptySeparators = regexp.MustCompile(`;\s*([;)])`)
	whitespace      = regexp.MustCompile(`\s+`)
	buildMarker     = regexp.MustCompile(`;\s*([^;()]*?)\s*build/`)
	tvKeywords      = regexp.MustCompile(`\b(tv|smarttv|smart-tv|googletv|androidtv|android tv|firetv|mitv|aft[a-z0-9]*|bravia|tizen|webos|web0s|hbbtv|roku|appletv|crkey|shield)\b`)
)

// cleanUserAgent lower-cases ua and drops tokens that identify the browser
// or rendering engine rather than the device
func cleanUserAgent(ua string) string {
	cleaned := strings.ToLower(ua)
	for _, re := range browserTokens {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = emptySeparators.ReplaceAllString(cleaned, "$1")
	cleaned = whitespace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

func platform(cleaned string) string {
	switch {
	case strings.Contains(cleaned, "iphone"), strings.Contains(cleaned, "ipad"), strings.Contains(cleaned, "ipod"):
		return "ios"
	case strings.Contains(cleaned, "windows"):
		return "windows"
	case strings.Contains(cleaned, "macintosh"), strings.Contains(cleaned, "mac os x"):
		return "macos"
	case strings.Contains(cleaned, "android"):
		return "android"
	default:
		return "unknown-device"
	}
}

// deviceModel returns the token preceding "build/", the model client hint or
// the platform category, in that order
func deviceModel(cleaned string, md *Metadata) string {
	if m := buildMarker.FindStringSubmatch(cleaned); len(m) == 2 {
		if model := strings.TrimSpace(m[1]); len(model) > 0 {
			return model
		}
	}

	if hint := strings.ToLower(md.ModelHint); len(hint) > 0 {
		return hint
	}

	if len(cleaned) == 0 {
		return unknown
	}

	return platform(cleaned)
}

func deviceClass(cleaned, model string) string {
	if tvKeywords.MatchString(cleaned) || tvKeywords.MatchString(model) {
		return classTV
	}
	return classMobile
}

// Describe returns the device class and model token for md
func Describe(md *Metadata) (class string, model string) {
	cleaned := cleanUserAgent(md.UserAgent)
	model = deviceModel(cleaned, md)
	class = deviceClass(cleaned, model)
	return
}

func language(md *Metadata) string {
	return orUnknown(strings.ToLower(strings.TrimSpace(md.AcceptLanguage)))
}
