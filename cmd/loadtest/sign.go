package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/signature"
	"github.com/rs/xid"
)

var errNoSecret = errors.New("secret is not configured")

func parseZones(value string) ([]int, error) {
	var zones []int

	for _, part := range strings.Split(value, ",") {
		zone, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || zone <= 0 {
			return nil, fmt.Errorf("invalid zone %q", part)
		}

		zones = append(zones, zone)
	}

	if len(zones) == 0 {
		return nil, errors.New("no zones")
	}

	return zones, nil
}

func generateUIDs(count int) []string {
	uids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		uids = append(uids, "load-"+xid.New().String())
	}

	return uids
}

func signedURL(baseURL, uid string, zone int, secret []byte) string {
	values := url.Values{}
	values.Set(common.ParamUID, uid)
	values.Set(common.ParamZone, strconv.Itoa(zone))
	values.Set(common.ParamSignature, signature.Sign(uid, zone, secret))

	return strings.TrimSuffix(baseURL, "/") + "/" + common.DownloadEndpoint + "?" + values.Encode()
}

// sign prints signed download links for freshly generated users
func sign(w io.Writer, baseURL string, usersCount int, zones []int, cfg common.ConfigStore) error {
	secret := []byte(cfg.Get(common.SecretKey).Value())
	if len(secret) == 0 {
		return errNoSecret
	}

	for _, uid := range generateUIDs(usersCount) {
		for _, zone := range zones {
			if _, err := fmt.Fprintln(w, signedURL(baseURL, uid, zone, secret)); err != nil {
				return err
			}
		}
	}

	return nil
}
