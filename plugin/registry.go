package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/period"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting an event is a slice walk, not
// a type assertion per plugin per call.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onReservationGranted []OnReservationGranted
	onReservationDenied  []OnReservationDenied
	onQuotaExceeded      []OnQuotaExceeded
	onAnomalousRelease   []OnAnomalousRelease
	onActionRecorded     []OnActionRecorded
	onAuditWriteFailed   []OnAuditWriteFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnReservationGranted); ok {
		r.onReservationGranted = append(r.onReservationGranted, v)
	}
	if v, ok := p.(OnReservationDenied); ok {
		r.onReservationDenied = append(r.onReservationDenied, v)
	}
	if v, ok := p.(OnQuotaExceeded); ok {
		r.onQuotaExceeded = append(r.onQuotaExceeded, v)
	}
	if v, ok := p.(OnAnomalousRelease); ok {
		r.onAnomalousRelease = append(r.onAnomalousRelease, v)
	}
	if v, ok := p.(OnActionRecorded); ok {
		r.onActionRecorded = append(r.onActionRecorded, v)
	}
	if v, ok := p.(OnAuditWriteFailed); ok {
		r.onAuditWriteFailed = append(r.onAuditWriteFailed, v)
	}

	return nil
}

// Plugins returns the names of all registered plugins.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		names[i] = p.Name()
	}
	return names
}

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────
// Hook errors never propagate to the emitting operation; they are logged
// and dropped so a misbehaving plugin cannot veto ledger or audit writes.

// EmitInit notifies OnInit plugins.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	hooks := r.onInit
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnInit(ctx, engine); err != nil {
			r.logger.Warn("plugin init failed", "plugin", h.Name(), "error", err)
		}
	}
}

// EmitShutdown notifies OnShutdown plugins.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	hooks := r.onShutdown
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnShutdown(ctx); err != nil {
			r.logger.Warn("plugin shutdown failed", "plugin", h.Name(), "error", err)
		}
	}
}

// EmitReservationGranted notifies OnReservationGranted plugins.
func (r *Registry) EmitReservationGranted(ctx context.Context, orgID id.OrgID, key period.Key, amount, remaining int64) {
	r.mu.RLock()
	hooks := r.onReservationGranted
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnReservationGranted(ctx, orgID, key, amount, remaining); err != nil {
			r.logger.Warn("plugin hook failed", "hook", "reservation_granted", "plugin", h.Name(), "error", err)
		}
	}
}

// EmitReservationDenied notifies OnReservationDenied plugins.
func (r *Registry) EmitReservationDenied(ctx context.Context, orgID id.OrgID, key period.Key, reason string) {
	r.mu.RLock()
	hooks := r.onReservationDenied
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnReservationDenied(ctx, orgID, key, reason); err != nil {
			r.logger.Warn("plugin hook failed", "hook", "reservation_denied", "plugin", h.Name(), "error", err)
		}
	}
}

// EmitQuotaExceeded notifies OnQuotaExceeded plugins.
func (r *Registry) EmitQuotaExceeded(ctx context.Context, orgID id.OrgID, key period.Key, used, limit int64) {
	r.mu.RLock()
	hooks := r.onQuotaExceeded
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnQuotaExceeded(ctx, orgID, key, used, limit); err != nil {
			r.logger.Warn("plugin hook failed", "hook", "quota_exceeded", "plugin", h.Name(), "error", err)
		}
	}
}

// EmitAnomalousRelease notifies OnAnomalousRelease plugins.
func (r *Registry) EmitAnomalousRelease(ctx context.Context, orgID id.OrgID, key period.Key, amount, used int64) {
	r.mu.RLock()
	hooks := r.onAnomalousRelease
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnAnomalousRelease(ctx, orgID, key, amount, used); err != nil {
			r.logger.Warn("plugin hook failed", "hook", "anomalous_release", "plugin", h.Name(), "error", err)
		}
	}
}

// EmitActionRecorded notifies OnActionRecorded plugins.
func (r *Registry) EmitActionRecorded(ctx context.Context, e *audit.Entry) {
	r.mu.RLock()
	hooks := r.onActionRecorded
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h.OnActionRecorded(ctx, e); err != nil {
			r.logger.Warn("plugin hook failed", "hook", "action_recorded", "plugin", h.Name(), "error", err)
		}
	}
}

// EmitAuditWriteFailed notifies OnAuditWriteFailed plugins.
func (r *Registry) EmitAuditWriteFailed(ctx context.Context, orgID id.OrgID, action string, err error) {
	r.mu.RLock()
	hooks := r.onAuditWriteFailed
	r.mu.RUnlock()

	for _, h := range hooks {
		if hookErr := h.OnAuditWriteFailed(ctx, orgID, action, err); hookErr != nil {
			r.logger.Warn("plugin hook failed", "hook", "audit_write_failed", "plugin", h.Name(), "error", hookErr)
		}
	}
}
