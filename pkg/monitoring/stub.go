package monitoring

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/devicegate/devicegate/pkg/common"
)

type StubMetrics struct {
	Admissions atomic.Int64
	Conflicts  atomic.Int64
	Transfers  atomic.Int64

	lock    sync.Mutex
	results map[string]int
}

func NewStub() *StubMetrics {
	return &StubMetrics{}
}

var _ Metrics = (*StubMetrics)(nil)

func (sm *StubMetrics) Handler(h http.Handler) http.Handler {
	return h
}

func (sm *StubMetrics) HandlerFunc(handlerIDFunc func() string) func(http.Handler) http.Handler {
	return common.NoopMiddleware
}

func (sm *StubMetrics) ObserveAdmission(result string) {
	sm.Admissions.Add(1)

	sm.lock.Lock()
	defer sm.lock.Unlock()

	if sm.results == nil {
		sm.results = make(map[string]int)
	}
	sm.results[result]++
}

// AdmissionResults returns how many admissions were observed with result
func (sm *StubMetrics) AdmissionResults(result string) int {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.results[result]
}

func (sm *StubMetrics) ObserveConflict()                          { sm.Conflicts.Add(1) }
func (sm *StubMetrics) ObserveTransfer(mode string, success bool) { sm.Transfers.Add(1) }
