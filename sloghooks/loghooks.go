// Package sloghooks reports kvstate events through log/slog, with sampling
// for noisy events and key redaction.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/kvstate"
	"github.com/unkn0wn-root/kvstate/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StoreErrorEvery    uint64
	WriteRejectedEvery uint64
	// Optional key redactor. Defaults to a SHA-256 prefix; use
	// func(k string) string { return k } to log raw keys.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	storeErrCtr atomic.Uint64
	rejectedCtr atomic.Uint64
}

var _ kvstate.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.Redact(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) RestoreFailed(key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("kvstate.restore_failed",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) StoreError(op, key string, err error) {
	if h.l == nil || !sample(h.opts.StoreErrorEvery, &h.storeErrCtr) {
		return
	}
	h.l.Error("kvstate.store_error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) WriteRejected(key string) {
	if h.l == nil || !sample(h.opts.WriteRejectedEvery, &h.rejectedCtr) {
		return
	}
	h.l.Info("kvstate.write_rejected",
		"key", h.redact(key))
}

func (h *Hooks) StateReset(key string, policy kvstate.ResetPolicy) {
	if h.l == nil {
		return
	}
	h.l.Debug("kvstate.state_reset",
		"key", h.redact(key),
		"policy", policy.String())
}

func (h *Hooks) Unauthorized(path string) {
	if h.l == nil {
		return
	}
	h.l.Info("kvstate.unauthorized",
		"redirect", path)
}
