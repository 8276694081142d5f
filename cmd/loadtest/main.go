package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/config"
)

const (
	modeSign = "sign"
	modeTest = "test"
)

var (
	envFileFlag       = flag.String("env", "", "Path to .env file")
	flagMode          = flag.String("mode", "", strings.Join([]string{modeSign, modeTest}, " | "))
	flagBaseURL       = flag.String("url", "http://localhost:8080", "Base URL of the gate")
	flagUsersCount    = flag.Int("user-count", 100, "number of distinct users")
	flagZones         = flag.String("zones", "1", "comma separated list of zones")
	flagRatePerSecond = flag.Int("rps", 100, "Requests per second")
	flagDuration      = flag.Int("duration", 10, "Duration of the load test (seconds)")
	flagValidPercent  = flag.Int("valid-percent", 100, "Percent of correctly signed requests")
)

func main() {
	flag.Parse()

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	slog.SetDefault(logger)

	envMap, err := common.NewEnvMap(*envFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	cfg := config.NewEnvConfig(envMap)

	zones, err := parseZones(*flagZones)
	if err == nil {
		switch *flagMode {
		case modeSign:
			err = sign(os.Stdout, *flagBaseURL, *flagUsersCount, zones, cfg)
		case modeTest:
			err = load(*flagBaseURL, *flagUsersCount, zones, cfg, *flagRatePerSecond, *flagDuration, *flagValidPercent)
		default:
			err = fmt.Errorf("unknown mode: '%s'", *flagMode)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
