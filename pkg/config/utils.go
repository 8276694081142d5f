package config

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/devicegate/devicegate/pkg/common"
)

func AsBool(item common.ConfigItem) bool {
	return common.EnvToBool(item.Value())
}

func AsInt(item common.ConfigItem, fallback int) int {
	value := strings.TrimSpace(item.Value())
	if len(value) == 0 {
		return fallback
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		slog.Error("Failed to parse integer config value", "key", EnvName(item.Key()), "value", value, common.ErrAttr(err))
		return fallback
	}

	return i
}

// AsDuration parses Go durations and additionally whole days ("365d")
func AsDuration(item common.ConfigItem, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(item.Value())
	if len(value) == 0 {
		return fallback
	}

	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Error("Failed to parse duration config value", "key", EnvName(item.Key()), "value", value, common.ErrAttr(err))
		return fallback
	}

	return d
}

func AsList(item common.ConfigItem) []string {
	parts := strings.Split(item.Value(), ",")
	result := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); len(p) > 0 {
			result = append(result, p)
		}
	}

	return result
}

func ListenAddress(cfg common.ConfigStore) string {
	return net.JoinHostPort(cfg.Get(common.HostKey).Value(), cfg.Get(common.PortKey).Value())
}

func splitHostPort(s string) (domain string, port string, err error) {
	if len(s) == 0 {
		return
	}

	domain, port, err = net.SplitHostPort(s)
	if err != nil {
		lastColonIndex := strings.LastIndex(s, ":")
		// no port, "s" is the full domain
		if lastColonIndex == -1 {
			return s, "", nil
		}

		// no port, but has weird format
		if lastColonIndex == len(s)-1 {
			return "", "", err
		}

		suffix := s[lastColonIndex+1:]
		for _, ch := range suffix {
			if !unicode.IsDigit(ch) {
				return "", "", err
			}
		}

		return s[:lastColonIndex], suffix, nil
	}

	return
}

// RedisAddress validates REDIS_ADDR and fills in the default port
func RedisAddress(ctx context.Context, item common.ConfigItem) string {
	host, port, err := splitHostPort(strings.TrimSpace(item.Value()))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse redis address", "value", item.Value(), common.ErrAttr(err))
		return item.Value()
	}

	if len(port) == 0 {
		port = "6379"
	}

	return net.JoinHostPort(host, port)
}
