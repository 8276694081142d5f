package main

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/config"
	"github.com/devicegate/devicegate/pkg/signature"
)

func TestParseZones(t *testing.T) {
	zones, err := parseZones("1, 2,7")
	if err != nil {
		t.Fatal(err)
	}

	if len(zones) != 3 || zones[0] != 1 || zones[1] != 2 || zones[2] != 7 {
		t.Errorf("Unexpected zones: %v", zones)
	}

	for _, value := range []string{"", "0", "a,1", "-3"} {
		if _, err := parseZones(value); err == nil {
			t.Errorf("Expected error for %q", value)
		}
	}
}

func TestSignProducesVerifiableLinks(t *testing.T) {
	secret := "loadtest-secret"
	cfg := config.NewBaseConfig(nil)
	cfg.Add(config.NewStaticValue(common.SecretKey, secret))

	var buf bytes.Buffer
	if err := sign(&buf, "http://gate.local/", 2, []int{1, 3}, cfg); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Unexpected number of links: %v", len(lines))
	}

	for _, line := range lines {
		u, err := url.Parse(line)
		if err != nil {
			t.Fatal(err)
		}

		if u.Path != "/"+common.DownloadEndpoint {
			t.Errorf("Unexpected path: %v", u.Path)
		}

		q := u.Query()
		zone, _ := strconv.Atoi(q.Get(common.ParamZone))
		if !signature.Verify(q.Get(common.ParamUID), zone, q.Get(common.ParamSignature), []byte(secret)) {
			t.Errorf("Link is not verifiable: %v", line)
		}
	}
}

func TestSignRequiresSecret(t *testing.T) {
	if err := sign(&bytes.Buffer{}, "http://gate.local", 1, []int{1}, config.NewBaseConfig(nil)); err != errNoSecret {
		t.Errorf("Unexpected error: %v", err)
	}
}
