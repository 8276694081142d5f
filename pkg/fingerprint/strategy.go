package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/devicegate/devicegate/pkg/signature"
	"golang.org/x/crypto/blake2b"
)

const (
	StrategyBalanced = "balanced"
	StrategyLoose    = "loose"
	StrategyStrict   = "strict"
	StrategyClientID = "client-id"
)

var (
	ErrUnknownStrategy = errors.New("unknown fingerprint strategy")
	deviceIDRegexp     = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
)

// Strategy maps request metadata to a stable device identifier.
// Derive always returns a 64 char lowercase hex string.
type Strategy interface {
	Name() string
	Derive(md *Metadata, uid string, secret []byte) string
}

// New returns the strategy by name. When deviceIDHeader is set the strategy
// prefers a client supplied device ID.
func New(name string, deviceIDHeader string) (Strategy, error) {
	var s Strategy

	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyBalanced, "":
		s = &balanced{}
	case StrategyLoose:
		s = &loose{}
	case StrategyStrict:
		s = &strict{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	if len(deviceIDHeader) > 0 {
		s = &clientID{next: s}
	}

	return s, nil
}

type balanced struct{}

var _ Strategy = (*balanced)(nil)

func (balanced) Name() string { return StrategyBalanced }

func (balanced) Derive(md *Metadata, uid string, secret []byte) string {
	class, model := Describe(md)
	base := strings.Join([]string{uid, class, model, language(md)}, ":")
	return signature.HMAC(secret, base)
}

// loose keeps only the device model, so language changes are tolerated
type loose struct{}

var _ Strategy = (*loose)(nil)

func (loose) Name() string { return StrategyLoose }

func (loose) Derive(md *Metadata, uid string, secret []byte) string {
	_, model := Describe(md)
	return signature.HMAC(secret, uid+":"+model)
}

// strict hashes every raw header, any browser update produces a new device
type strict struct{}

var _ Strategy = (*strict)(nil)

func (strict) Name() string { return StrategyStrict }

func (strict) Derive(md *Metadata, uid string, secret []byte) string {
	key := secret
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(secret)
		key = sum[:]
	}

	// key length is bounded above so New256 cannot fail
	hash, _ := blake2b.New256(key)

	for _, v := range []string{uid, md.UserAgent, md.AcceptLanguage, md.Accept, md.ModelHint, md.PlatformHint} {
		hash.Write([]byte(orUnknown(v)))
		hash.Write([]byte{0})
	}

	return hex.EncodeToString(hash.Sum(nil))
}

type clientID struct {
	next Strategy
}

var _ Strategy = (*clientID)(nil)

func (s *clientID) Name() string { return StrategyClientID + "+" + s.next.Name() }

func (s *clientID) Derive(md *Metadata, uid string, secret []byte) string {
	if deviceIDRegexp.MatchString(md.DeviceID) {
		return signature.HMAC(secret, uid+":client:"+md.DeviceID)
	}

	return s.next.Derive(md, uid, secret)
}
