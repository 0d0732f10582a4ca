// Package promhook counts kvstate events as Prometheus metrics.
package promhook

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/kvstate"
)

type Hooks struct {
	next kvstate.Hooks

	restoreFailed *prom.CounterVec
	storeErrors   *prom.CounterVec
	writeRejected prom.Counter
	resets        *prom.CounterVec
	unauthorized  prom.Counter
}

var _ kvstate.Hooks = (*Hooks)(nil)

// New registers the kvstate counters on reg (a fresh registry when nil) and
// forwards every event to next, if set. Storage keys are not used as labels.
func New(reg prom.Registerer, next kvstate.Hooks) (*Hooks, error) {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	if next == nil {
		next = kvstate.NopHooks{}
	}
	h := &Hooks{
		next: next,
		restoreFailed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kvstate",
			Name:      "restore_failures_total",
			Help:      "Stored values that could not be restored, by reason",
		}, []string{"reason"}),
		storeErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kvstate",
			Name:      "store_errors_total",
			Help:      "Backing store errors by operation",
		}, []string{"op"}),
		writeRejected: prom.NewCounter(prom.CounterOpts{
			Namespace: "kvstate",
			Name:      "writes_rejected_total",
			Help:      "Writes the backing store declined to admit",
		}),
		resets: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kvstate",
			Name:      "resets_total",
			Help:      "State resets by policy",
		}, []string{"policy"}),
		unauthorized: prom.NewCounter(prom.CounterOpts{
			Namespace: "kvstate",
			Name:      "unauthorized_total",
			Help:      "401 responses that cleared credentials",
		}),
	}
	for _, c := range []prom.Collector{h.restoreFailed, h.storeErrors, h.writeRejected, h.resets, h.unauthorized} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) RestoreFailed(key, reason string) {
	h.restoreFailed.WithLabelValues(reason).Inc()
	h.next.RestoreFailed(key, reason)
}

func (h *Hooks) StoreError(op, key string, err error) {
	h.storeErrors.WithLabelValues(op).Inc()
	h.next.StoreError(op, key, err)
}

func (h *Hooks) WriteRejected(key string) {
	h.writeRejected.Inc()
	h.next.WriteRejected(key)
}

func (h *Hooks) StateReset(key string, p kvstate.ResetPolicy) {
	h.resets.WithLabelValues(p.String()).Inc()
	h.next.StateReset(key, p)
}

func (h *Hooks) Unauthorized(path string) {
	h.unauthorized.Inc()
	h.next.Unauthorized(path)
}
