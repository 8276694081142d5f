package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/downloads"
	"github.com/devicegate/devicegate/pkg/fingerprint"
	"github.com/devicegate/devicegate/pkg/registry"
	"github.com/devicegate/devicegate/pkg/signature"
)

const (
	TransferRedirect = "redirect"
	TransferProxy    = "proxy"
)

var (
	ErrAuthentication      = errors.New("authentication failed")
	ErrZoneNotFound        = errors.New("zone not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Resolver looks up the artifact for a zone
type Resolver interface {
	Lookup(ctx context.Context, zone int) (*downloads.Artifact, error)
}

type Request struct {
	UID       string
	Zone      int
	Signature string
	Metadata  *fingerprint.Metadata
}

type Decision struct {
	Outcome     registry.Outcome
	Destination string
	Fingerprint string
	Devices     int
}

func (d *Decision) Admitted() bool {
	return d.Outcome != registry.Rejected
}

type Options struct {
	Secret            []byte
	ConflictURL       string
	TransferMode      string
	TransferPrefix    string
	ValidateZoneFirst bool
}

// Gate composes signature verification, fingerprinting and the device
// registry into admission decisions
type Gate struct {
	opts     Options
	strategy fingerprint.Strategy
	registry *registry.Registry
	resolver Resolver
	tokens   *signature.TransferTokens
}

func New(opts Options, strategy fingerprint.Strategy, reg *registry.Registry, resolver Resolver, tokens *signature.TransferTokens) *Gate {
	if len(opts.TransferPrefix) == 0 {
		opts.TransferPrefix = "/" + common.TransferEndpoint + "/"
	}

	if len(opts.ConflictURL) == 0 {
		opts.ConflictURL = "/" + common.ConflictEndpoint
	}

	if opts.TransferMode != TransferProxy {
		opts.TransferMode = TransferRedirect
	}

	return &Gate{
		opts:     opts,
		strategy: strategy,
		registry: reg,
		resolver: resolver,
		tokens:   tokens,
	}
}

func (g *Gate) lookup(ctx context.Context, zone int) (*downloads.Artifact, error) {
	artifact, err := g.resolver.Lookup(ctx, zone)
	if err == nil {
		return artifact, nil
	}

	if errors.Is(err, downloads.ErrZoneNotFound) {
		return nil, ErrZoneNotFound
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func (g *Gate) destination(uid string, artifact *downloads.Artifact) string {
	if g.opts.TransferMode != TransferProxy {
		return artifact.URL
	}

	values := url.Values{}
	values.Set(common.ParamUID, uid)
	values.Set(common.ParamToken, g.tokens.Token(uid, artifact.Zone))

	return g.opts.TransferPrefix + strconv.Itoa(artifact.Zone) + "?" + values.Encode()
}

// Authenticated reports whether sig is the link signature of uid and zone
func (g *Gate) Authenticated(uid string, zone int, sig string) bool {
	if len(uid) == 0 || zone <= 0 || len(sig) == 0 {
		return false
	}

	return signature.Verify(uid, zone, strings.ToLower(sig), g.opts.Secret)
}

// TransferAuthenticated reports whether token was issued for uid and zone and
// has not expired
func (g *Gate) TransferAuthenticated(uid string, zone int, token string) bool {
	return len(uid) > 0 && zone > 0 && g.tokens.Verify(token, uid, zone)
}

func (g *Gate) authenticate(req *Request) error {
	if !g.Authenticated(req.UID, req.Zone, req.Signature) {
		return ErrAuthentication
	}

	return nil
}

func (g *Gate) derive(req *Request) string {
	md := req.Metadata
	if md == nil {
		md = &fingerprint.Metadata{}
	}

	return g.strategy.Derive(md, req.UID, g.opts.Secret)
}

// Admit decides whether the device behind req may download the zone artifact.
// Quota rejection is a decision, not an error.
func (g *Gate) Admit(ctx context.Context, req *Request) (*Decision, error) {
	if err := g.authenticate(req); err != nil {
		slog.WarnContext(ctx, "Invalid download signature", common.UIDAttr(req.UID), "zone", req.Zone)
		return nil, err
	}

	var artifact *downloads.Artifact
	if g.opts.ValidateZoneFirst {
		var err error
		if artifact, err = g.lookup(ctx, req.Zone); err != nil {
			return nil, err
		}
	}

	fp := g.derive(req)

	result, err := g.registry.AdmitOrReject(ctx, req.UID, fp)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Outcome:     result.Outcome,
		Fingerprint: fp,
		Devices:     result.Devices,
	}

	if !result.Admitted() {
		slog.InfoContext(ctx, "Device quota exceeded", common.UIDAttr(req.UID), "zone", req.Zone, "devices", result.Devices)
		decision.Destination = g.opts.ConflictURL
		return decision, nil
	}

	if artifact == nil {
		if artifact, err = g.lookup(ctx, req.Zone); err != nil {
			return decision, err
		}
	}

	decision.Destination = g.destination(req.UID, artifact)

	slog.DebugContext(ctx, "Admitted device", common.UIDAttr(req.UID), "zone", req.Zone, "outcome", result.Outcome.String(),
		"devices", result.Devices)

	return decision, nil
}

// Status reports the binding state for a signed link without binding
func (g *Gate) Status(ctx context.Context, req *Request) (*registry.Status, error) {
	if err := g.authenticate(req); err != nil {
		return nil, err
	}

	fp := g.derive(req)

	return g.registry.Inspect(ctx, req.UID, fp), nil
}

// Artifact validates a transfer token and returns the artifact to stream
func (g *Gate) Artifact(ctx context.Context, uid string, zone int, token string) (*downloads.Artifact, error) {
	if !g.TransferAuthenticated(uid, zone, token) {
		slog.WarnContext(ctx, "Invalid transfer token", common.UIDAttr(uid), "zone", zone)
		return nil, ErrAuthentication
	}

	return g.lookup(ctx, zone)
}
