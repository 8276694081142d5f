package main

import (
	"log/slog"
	randv2 "math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/common/tests"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

func deviceUserAgents() []string {
	var result []string
	for _, uas := range tests.UserAgents {
		result = append(result, uas...)
	}

	return result
}

func downloadTargeter(baseURL string, uids []string, zones []int, validPercent int, cfg common.ConfigStore) vegeta.Targeter {
	secret := []byte(cfg.Get(common.SecretKey).Value())
	rateLimitHeader := cfg.Get(common.RateLimitHeaderKey).Value()
	userAgents := deviceUserAgents()

	return func(tgt *vegeta.Target) error {
		if tgt == nil {
			return vegeta.ErrNilTarget
		}

		tgt.Method = http.MethodGet

		uid := uids[randv2.IntN(len(uids))]
		zone := zones[randv2.IntN(len(zones))]
		target := signedURL(baseURL, uid, zone, secret)

		// in validPercent % of cases, we want to send a valid signature
		if validPercent < randv2.IntN(100)+1 {
			target = strings.Replace(target, "sig=", "sig=f", 1)
		}

		tgt.URL = target

		header := http.Header{}
		header.Set(common.HeaderUserAgent, userAgents[randv2.IntN(len(userAgents))])
		header.Set(common.HeaderAcceptLanguage, "en-US,en;q=0.9")
		if len(rateLimitHeader) > 0 {
			header.Set(rateLimitHeader, tests.GenerateRandomIPv4())
		}
		tgt.Header = header

		return nil
	}
}

func load(baseURL string, usersCount int, zones []int, cfg common.ConfigStore, freq int, durationSeconds int, validPercent int) error {
	if len(cfg.Get(common.SecretKey).Value()) == 0 {
		return errNoSecret
	}

	rate := vegeta.Rate{Freq: freq, Per: time.Second}
	duration := time.Duration(durationSeconds) * time.Second
	targeter := downloadTargeter(baseURL, generateUIDs(max(usersCount, 1)), zones, validPercent, cfg)
	// redirects point to the artifacts, we only measure the gate
	attacker := vegeta.NewAttacker(vegeta.Redirects(vegeta.NoFollow))

	slog.Info("Attacking", "duration", duration.String(), "rate", rate.String(), "users", usersCount)

	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, rate, duration, "Big Bang!") {
		metrics.Add(res)
	}
	metrics.Close()

	reporter := vegeta.NewTextReporter(&metrics)
	return reporter(os.Stdout)
}
