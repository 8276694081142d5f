package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/config"
	"github.com/devicegate/devicegate/pkg/downloads"
	"github.com/devicegate/devicegate/pkg/fingerprint"
	"github.com/devicegate/devicegate/pkg/gate"
	"github.com/devicegate/devicegate/pkg/monitoring"
	"github.com/devicegate/devicegate/pkg/ratelimit"
	"github.com/devicegate/devicegate/pkg/registry"
	"github.com/devicegate/devicegate/web"
	"github.com/justinas/alice"
	"github.com/rs/cors"
)

const (
	retryAfter      = 5 * time.Second
	staticPrefix    = "/static/"
	resultBadInput  = "bad_request"
	resultAuth      = "unauthenticated"
	resultNotFound  = "not_found"
	resultNoService = "unavailable"
	resultError     = "error"
	resultLimited   = "rate_limited"
)

var (
	errMissingParams = errors.New("missing required parameters")
	errInvalidZone   = errors.New("invalid zone")
)

type server struct {
	gate            *gate.Gate
	transfer        *downloads.Transfer
	metrics         monitoring.Metrics
	pages           *web.Pages
	accessLog       AccessLogWriter
	accessLogChan   chan *common.AccessRecord
	accessLogCancel context.CancelFunc
	cors            *cors.Cors
	ipLimiter       ratelimit.HTTPRateLimiter
	uidLimiter      ratelimit.HTTPRateLimiter
	deviceIDHeader  string
	transferMode    string
	maxDevices      int
	supportURL      string
}

func NewServer(g *gate.Gate,
	transfer *downloads.Transfer,
	metrics monitoring.Metrics,
	pages *web.Pages,
	accessLog AccessLogWriter,
	cfg common.ConfigStore) *server {
	rateLimitHeader := cfg.Get(common.RateLimitHeaderKey).Value()
	burst := config.AsInt(cfg.Get(common.LeakyBucketBurstKey), 20)
	rps, err := strconv.ParseFloat(cfg.Get(common.LeakyBucketRateKey).Value(), 64)
	if err != nil {
		rps = 2
	}

	s := &server{
		gate:           g,
		transfer:       transfer,
		metrics:        metrics,
		pages:          pages,
		accessLog:      accessLog,
		accessLogChan:  make(chan *common.AccessRecord, 3*accessLogBatchSize/2),
		deviceIDHeader: cfg.Get(common.DeviceIDHeaderKey).Value(),
		transferMode:   cfg.Get(common.TransferModeKey).Value(),
		maxDevices:     config.AsInt(cfg.Get(common.MaxDevicesKey), 3),
		supportURL:     cfg.Get(common.SupportURLKey).Value(),
		cors: cors.New(cors.Options{
			AllowedOrigins: config.AsList(cfg.Get(common.CORSOriginsKey)),
			AllowedMethods: []string{http.MethodGet},
			MaxAge:         int((24 * time.Hour).Seconds()),
		}),
	}

	s.ipLimiter = ratelimit.NewIPAddrRateLimiter(rateLimitHeader, uint32(max(burst, 1)), rps, nil /*rejected*/)
	s.uidLimiter = ratelimit.NewUIDRateLimiter(nil /*buckets*/, s.authenticatedUID, http.HandlerFunc(s.rateLimited))

	if s.transferMode != gate.TransferProxy {
		s.transferMode = gate.TransferRedirect
	}

	var accessLogCtx context.Context
	accessLogCtx, s.accessLogCancel = context.WithCancel(
		context.WithValue(context.Background(), common.TraceIDContextKey, "flush_access_log"))
	go s.flushAccessLog(accessLogCtx)

	return s
}

func (s *server) Setup(router *http.ServeMux) {
	base := alice.New(common.Recovered, monitoring.Logged)
	gated := base.Append(s.ipLimiter.RateLimit, s.uidLimiter.RateLimit, common.NoCache)

	router.Handle(http.MethodGet+" /"+common.DownloadEndpoint,
		gated.Append(s.metrics.HandlerFunc(func() string { return common.DownloadEndpoint })).ThenFunc(s.download))
	router.Handle(http.MethodGet+" /"+common.TransferEndpoint+"/{zone}",
		gated.Append(s.metrics.HandlerFunc(func() string { return common.TransferEndpoint })).ThenFunc(s.transferArtifact))
	// preflight requests are answered by the CORS handler
	router.Handle("/"+common.StatusEndpoint,
		base.Append(s.ipLimiter.RateLimit, common.NoCache, s.cors.Handler,
			s.metrics.HandlerFunc(func() string { return common.StatusEndpoint })).ThenFunc(s.status))
	router.Handle(http.MethodGet+" /"+common.ConflictEndpoint,
		base.Append(s.ipLimiter.RateLimit, common.NoCache).ThenFunc(s.conflict))
	router.Handle(http.MethodGet+" "+staticPrefix, http.StripPrefix(staticPrefix, web.Static()))

	common.SetupWellKnownPaths(router, alice.New(common.Recovered))
}

func (s *server) Shutdown() {
	slog.Debug("Shutting down API server routines")
	s.ipLimiter.Shutdown()
	s.uidLimiter.Shutdown()
	s.accessLogCancel()
}

// authenticatedUID returns the uid of a request that carries a valid link
// signature or transfer token for it
func (s *server) authenticatedUID(r *http.Request) (string, bool) {
	query := r.URL.Query()
	uid := query.Get(common.ParamUID)

	if zoneStr := r.PathValue("zone"); len(zoneStr) > 0 {
		zone, err := strconv.Atoi(zoneStr)
		return uid, (err == nil) && s.gate.TransferAuthenticated(uid, zone, query.Get(common.ParamToken))
	}

	zone, err := strconv.Atoi(query.Get(common.ParamZone))
	return uid, (err == nil) && s.gate.Authenticated(uid, zone, query.Get(common.ParamSignature))
}

func (s *server) rateLimited(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.WarnContext(ctx, "Gated request was rate limited", common.UIDAttr(r.URL.Query().Get(common.ParamUID)),
		"path", r.URL.Path)
	s.metrics.ObserveAdmission(resultLimited)
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
}

func (s *server) parseGateRequest(r *http.Request) (*gate.Request, error) {
	query := r.URL.Query()

	uid := query.Get(common.ParamUID)
	zoneStr := query.Get(common.ParamZone)
	sig := query.Get(common.ParamSignature)

	if len(uid) == 0 || len(zoneStr) == 0 || len(sig) == 0 {
		return nil, errMissingParams
	}

	zone, err := strconv.Atoi(zoneStr)
	if err != nil || zone <= 0 {
		return nil, errInvalidZone
	}

	return &gate.Request{
		UID:       uid,
		Zone:      zone,
		Signature: sig,
		Metadata:  fingerprint.MetadataFromRequest(r, s.deviceIDHeader),
	}, nil
}

// sendError maps the error taxonomy of the gate to HTTP responses
func (s *server) sendError(ctx context.Context, w http.ResponseWriter, err error) string {
	switch {
	case errors.Is(err, errMissingParams), errors.Is(err, errInvalidZone):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return resultBadInput
	case errors.Is(err, gate.ErrAuthentication):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return resultAuth
	case errors.Is(err, gate.ErrZoneNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return resultNotFound
	case errors.Is(err, gate.ErrUpstreamUnavailable),
		errors.Is(err, downloads.ErrUnavailable),
		errors.Is(err, registry.ErrStoreUnavailable),
		errors.Is(err, registry.ErrTooManyConflicts):
		slog.WarnContext(ctx, "Dependency is unavailable", common.ErrAttr(err))
		common.ServiceUnavailable(w, retryAfter)
		return resultNoService
	default:
		slog.ErrorContext(ctx, "Unexpected failure", common.ErrAttr(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return resultError
	}
}

func (s *server) download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := s.parseGateRequest(r)
	if err != nil {
		slog.WarnContext(ctx, "Invalid download request", common.ErrAttr(err))
		s.metrics.ObserveAdmission(s.sendError(ctx, w, err))
		return
	}

	decision, err := s.gate.Admit(ctx, req)
	if decision != nil {
		s.addAccessRecord(req, decision)
	}

	if err != nil {
		s.metrics.ObserveAdmission(s.sendError(ctx, w, err))
		return
	}

	s.metrics.ObserveAdmission(decision.Outcome.String())
	if decision.Admitted() && (s.transferMode == gate.TransferRedirect) {
		s.metrics.ObserveTransfer(s.transferMode, true)
	}

	http.Redirect(w, r, decision.Destination, http.StatusFound)
}

func (s *server) transferArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	zone, err := strconv.Atoi(r.PathValue("zone"))
	if err != nil || zone <= 0 {
		s.sendError(ctx, w, errInvalidZone)
		return
	}

	query := r.URL.Query()
	artifact, err := s.gate.Artifact(ctx, query.Get(common.ParamUID), zone, query.Get(common.ParamToken))
	if err != nil {
		s.sendError(ctx, w, err)
		return
	}

	if err := s.transfer.Stream(ctx, w, artifact); err != nil {
		s.metrics.ObserveTransfer(gate.TransferProxy, false)
		s.sendError(ctx, w, err)
		return
	}

	s.metrics.ObserveTransfer(gate.TransferProxy, true)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	req, err := s.parseGateRequest(r)
	if err != nil {
		s.sendError(ctx, w, err)
		return
	}

	status, err := s.gate.Status(ctx, req)
	if err != nil {
		s.sendError(ctx, w, err)
		return
	}

	common.SendJSONResponse(ctx, w, status, map[string]string{})
}

func (s *server) conflict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := &web.ConflictPage{
		Layout: web.Layout{
			StaticPrefix: staticPrefix,
			SupportURL:   s.supportURL,
		},
		MaxDevices: s.maxDevices,
	}

	w.Header().Set(common.HeaderContentType, common.ContentTypeHTML)
	if err := s.pages.RenderConflict(ctx, w, data); err != nil {
		slog.ErrorContext(ctx, "Failed to render conflict page", common.ErrAttr(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
