package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/gate"
)

const (
	accessLogBatchSize  = 100
	accessLogMaxPending = 10 * accessLogBatchSize
	accessLogInterval   = 2 * time.Second
)

type AccessLogWriter interface {
	WriteAccessLogBatch(ctx context.Context, records []*common.AccessRecord) error
}

func (s *server) addAccessRecord(req *gate.Request, decision *gate.Decision) {
	if s.accessLog == nil {
		return
	}

	record := &common.AccessRecord{
		UID:         req.UID,
		Zone:        int32(req.Zone),
		Fingerprint: decision.Fingerprint,
		Outcome:     decision.Outcome.String(),
		Devices:     uint8(min(decision.Devices, 255)),
		Timestamp:   time.Now().UTC(),
	}

	select {
	case s.accessLogChan <- record:
	default:
		slog.Warn("Dropping access record, log is full", common.UIDAttr(req.UID))
	}
}

func (s *server) flushAccessLog(ctx context.Context) {
	if s.accessLog == nil {
		slog.DebugContext(ctx, "Access log is disabled")
		return
	}

	common.ProcessBatchArray(ctx, s.accessLogChan, accessLogInterval, accessLogBatchSize, accessLogMaxPending, s.accessLog.WriteAccessLogBatch)
}
