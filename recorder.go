package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/plugin"
	"github.com/brandforge/ledger/store"
	"github.com/brandforge/ledger/types"
)

// Recorder is the audit trail engine: it durably appends one immutable
// entry per automated agent decision, whether the decision succeeded,
// failed, or never terminated.
//
// Entries are written only at terminal calls (Complete/Fail), so the only
// recorder-side state is the per-handle start record, which is exclusively
// owned by the caller holding the handle.
type Recorder struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	now     func() time.Time

	// Terminal-write retry policy. Audit completeness is the component's
	// entire value, so writes get a bounded best-effort retry before the
	// failure surfaces to the caller.
	maxTries      uint
	retryInterval time.Duration

	// Abandoned-handle sweeper
	abandonAfter time.Duration
	sweepEvery   time.Duration

	mu       sync.Mutex
	inflight map[*ActionHandle]struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRecorder creates a new audit Recorder.
func NewRecorder(s store.Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:         s,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		now:           time.Now,
		maxTries:      3,
		retryInterval: 100 * time.Millisecond,
		inflight:      make(map[*ActionHandle]struct{}),
		stopChan:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RecorderOption configures a Recorder instance.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
		r.plugins.WithLogger(logger)
	}
}

// WithRecorderPlugin registers a plugin.
func WithRecorderPlugin(p plugin.Plugin) RecorderOption {
	return func(r *Recorder) {
		_ = r.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithRecorderClock overrides the wall clock. Intended for tests.
// Durations are still measured with the monotonic reading captured at
// BeginAction when the real clock is in use.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithWriteRetry configures the bounded retry on terminal audit writes.
// maxTries counts the first attempt; 1 disables retrying.
func WithWriteRetry(maxTries uint, initialInterval time.Duration) RecorderOption {
	return func(r *Recorder) {
		if maxTries > 0 {
			r.maxTries = maxTries
		}
		if initialInterval > 0 {
			r.retryInterval = initialInterval
		}
	}
}

// WithAbandonWindow enables the background sweeper: handles that receive
// no terminal call within d are closed with a synthetic abandoned entry.
func WithAbandonWindow(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.abandonAfter = d
			r.sweepEvery = d / 2
			if r.sweepEvery < time.Second {
				r.sweepEvery = time.Second
			}
		}
	}
}

// Start launches the abandoned-handle sweeper if an abandon window was
// configured. Without one, Start is a no-op and the Recorder is usable
// immediately after NewRecorder.
func (r *Recorder) Start(ctx context.Context) error {
	if r.abandonAfter <= 0 {
		return nil
	}

	r.wg.Add(1)
	go r.sweepWorker(ctx)

	r.logger.Info("audit recorder sweeper started",
		"abandon_after", r.abandonAfter,
		"sweep_every", r.sweepEvery,
	)

	return nil
}

// Stop shuts down the sweeper and plugin hooks. It does not close the
// store; the store's owner does that.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	r.plugins.EmitShutdown(context.Background())
}

// ──────────────────────────────────────────────────
// Action handles
// ──────────────────────────────────────────────────

type handleState int

const (
	handleOpen handleState = iota
	handleDone
	handleSwept
)

// ActionHandle links a BeginAction call to its eventual terminal audit
// write. A handle accepts exactly one Complete or Fail; a second terminal
// call is a programming error reported as ErrDuplicateCompletion.
type ActionHandle struct {
	orgID      id.OrgID
	action     string
	payload    types.Document
	brandKitID id.BrandKitID
	assetID    id.AssetID
	startedAt  time.Time

	mu    sync.Mutex
	state handleState
}

// OrgID returns the organization the action runs on behalf of.
func (h *ActionHandle) OrgID() id.OrgID { return h.orgID }

// Action returns the action tag captured at BeginAction.
func (h *ActionHandle) Action() string { return h.action }

// StartedAt returns the capture time of the handle.
func (h *ActionHandle) StartedAt() time.Time { return h.startedAt }

// BeginOption attaches optional context to a new handle.
type BeginOption func(*ActionHandle)

// WithBrandKit attaches a weak brand-kit reference to the entry.
func WithBrandKit(bkID id.BrandKitID) BeginOption {
	return func(h *ActionHandle) { h.brandKitID = bkID }
}

// WithAsset attaches a weak asset reference to the entry.
func WithAsset(assetID id.AssetID) BeginOption {
	return func(h *ActionHandle) { h.assetID = assetID }
}

// BeginAction captures the start timestamp and the input payload for one
// agent decision. Nothing is persisted yet: the returned handle guarantees
// that a subsequent Complete or Fail produces exactly one audit entry.
func (r *Recorder) BeginAction(orgID id.OrgID, action string, payload types.Document, opts ...BeginOption) *ActionHandle {
	h := &ActionHandle{
		orgID:     orgID,
		action:    action,
		payload:   payload.Clone(),
		startedAt: r.now(),
	}

	for _, opt := range opts {
		opt(h)
	}

	r.mu.Lock()
	r.inflight[h] = struct{}{}
	r.mu.Unlock()

	return h
}

// Complete terminates the action successfully, persisting an entry with
// the given result and the elapsed duration. Exactly one terminal call is
// allowed per handle.
func (r *Recorder) Complete(ctx context.Context, h *ActionHandle, result types.Document) (*audit.Entry, error) {
	return r.terminal(ctx, h, audit.OutcomeCompleted, result.Clone())
}

// Fail terminates the action unsuccessfully. The entry carries an
// error-shaped result document and a populated duration; action tag and
// payload are unchanged from BeginAction.
func (r *Recorder) Fail(ctx context.Context, h *ActionHandle, errSummary string) (*audit.Entry, error) {
	return r.terminal(ctx, h, audit.OutcomeFailed, types.ErrorDoc(errSummary))
}

// terminal performs the single allowed terminal write for a handle. The
// handle lock is held across the store write so a concurrent duplicate
// call observes either handleDone or the first call still in progress,
// never a second row.
func (r *Recorder) terminal(ctx context.Context, h *ActionHandle, outcome audit.Outcome, result types.Document) (*audit.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case handleDone:
		return nil, ErrDuplicateCompletion
	case handleSwept:
		return nil, ErrHandleAbandoned
	}

	elapsed := r.now().Sub(h.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	durationMS := elapsed.Milliseconds()

	entry := &audit.Entry{
		ID:         id.NewAuditEntryID(),
		OrgID:      h.orgID,
		BrandKitID: h.brandKitID,
		AssetID:    h.assetID,
		Action:     h.action,
		Outcome:    outcome,
		Payload:    h.payload,
		Result:     result,
		DurationMS: &durationMS,
		CreatedAt:  r.now().UTC(),
	}

	if err := r.append(ctx, entry); err != nil {
		// The handle stays open: the caller owns the retry decision and
		// may attempt the terminal call again.
		r.plugins.EmitAuditWriteFailed(ctx, h.orgID, h.action, err)
		return nil, fmt.Errorf("%w: %w", ErrAuditWriteFailed, err)
	}

	h.state = handleDone
	r.forget(h)
	r.plugins.EmitActionRecorded(ctx, entry)

	r.logger.Debug("audit entry recorded",
		"org_id", h.orgID.String(),
		"action", h.action,
		"outcome", string(outcome),
		"duration_ms", durationMS,
	)

	return entry, nil
}

// append writes the entry with a bounded exponential-backoff retry.
func (r *Recorder) append(ctx context.Context, entry *audit.Entry) error {
	op := func() (struct{}, error) {
		return struct{}{}, r.store.AppendAuditEntry(ctx, entry)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryInterval

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(r.maxTries),
	)
	return err
}

func (r *Recorder) forget(h *ActionHandle) {
	r.mu.Lock()
	delete(r.inflight, h)
	r.mu.Unlock()
}

// ──────────────────────────────────────────────────
// Reads and reference maintenance
// ──────────────────────────────────────────────────

// Entries returns the organization's audit entries, newest first. Access
// control is the caller's collaborator's responsibility; the query is
// always scoped to the single given organization.
func (r *Recorder) Entries(ctx context.Context, orgID id.OrgID, opts audit.QueryOpts) ([]*audit.Entry, error) {
	return r.store.ListAuditEntries(ctx, orgID, opts)
}

// DetachReferences nulls dangling brand-kit/asset references after the
// referent was deleted. The entries themselves survive.
func (r *Recorder) DetachReferences(ctx context.Context, orgID id.OrgID, brandKitID id.BrandKitID, assetID id.AssetID) (int64, error) {
	return r.store.DetachAuditReferences(ctx, orgID, brandKitID, assetID)
}

// ──────────────────────────────────────────────────
// Abandoned-handle sweeper
// ──────────────────────────────────────────────────

// sweepWorker closes handles that never received a terminal call.
func (r *Recorder) sweepWorker(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep writes a synthetic abandoned entry for every in-flight handle
// older than the abandon window. Abandoned entries carry no duration:
// the action never terminated, so its true duration is unknown.
func (r *Recorder) sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.abandonAfter)

	r.mu.Lock()
	var stale []*ActionHandle
	for h := range r.inflight {
		if h.startedAt.Before(cutoff) {
			stale = append(stale, h)
		}
	}
	r.mu.Unlock()

	for _, h := range stale {
		r.sweepHandle(ctx, h)
	}
}

func (r *Recorder) sweepHandle(ctx context.Context, h *ActionHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != handleOpen {
		return
	}

	entry := &audit.Entry{
		ID:         id.NewAuditEntryID(),
		OrgID:      h.orgID,
		BrandKitID: h.brandKitID,
		AssetID:    h.assetID,
		Action:     h.action,
		Outcome:    audit.OutcomeAbandoned,
		Payload:    h.payload,
		Result:     types.ErrorDoc("action abandoned: no terminal call within window"),
		CreatedAt:  r.now().UTC(),
	}

	if err := r.append(ctx, entry); err != nil {
		// Leave the handle open; the next sweep retries.
		r.logger.Warn("failed to record abandoned action",
			"org_id", h.orgID.String(),
			"action", h.action,
			"error", err,
		)
		r.plugins.EmitAuditWriteFailed(ctx, h.orgID, h.action, err)
		return
	}

	h.state = handleSwept
	r.forget(h)
	r.plugins.EmitActionRecorded(ctx, entry)

	r.logger.Warn("abandoned action swept",
		"org_id", h.orgID.String(),
		"action", h.action,
		"started_at", h.startedAt,
	)
}
