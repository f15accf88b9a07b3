// Package ledger provides credit metering and audit recording for a
// multi-tenant brand-asset generation platform.
//
// Ledger is designed as a library, not a service. The orchestrating
// application imports it directly and invokes two independent components
// against a shared persistent store:
//
//   - The credit Ledger gates job admission: it reserves generation
//     credits against the organization's plan quota for the current
//     billing month, atomically, so concurrent job bursts can never
//     jointly overshoot the limit.
//   - The audit Recorder appends one immutable entry per automated agent
//     decision (plan, render, validate, regenerate, ...) with its inputs,
//     outputs and duration.
//
// # Quick Start
//
// Create both components over your preferred store:
//
//	import (
//	    "github.com/brandforge/ledger"
//	    "github.com/brandforge/ledger/store/postgres"
//	)
//
//	st, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := ledger.New(st)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	rec := ledger.NewRecorder(st)
//
// # Admitting work
//
// A job-intake caller reserves one credit before doing generation work:
//
//	res, err := l.ReserveOne(ctx, orgID)
//	if err != nil {
//	    return err // storage failure: retry with backoff, never a grant
//	}
//	if !res.Granted {
//	    return presentDenial(res.Reason) // quota_exceeded | subscription_inactive
//	}
//
// If the downstream work fails after admission, compensate:
//
//	defer func() {
//	    if jobFailed {
//	        l.Release(ctx, orgID, res.Key, res.Amount)
//	    }
//	}()
//
// # Recording decisions
//
// Each agent decision point brackets its work with a handle:
//
//	h := rec.BeginAction(orgID, audit.ActionRender, types.Doc("prompt", "sunset logo"))
//	out, err := renderer.Render(ctx, job)
//	if err != nil {
//	    rec.Fail(ctx, h, err.Error())
//	    return err
//	}
//	rec.Complete(ctx, h, types.Doc("asset_id", out.AssetID))
//
// Exactly one terminal call is allowed per handle; a second one reports
// ErrDuplicateCompletion and writes nothing.
//
// # Concurrency
//
// The billing period row for one (organization, month) is the single
// mutable resource. Every store implementation realizes the quota check
// as one conditional write ("increment only if the result stays within
// the limit"), so TryReserve/Release calls against one key are
// linearizable and N concurrent attempts against limit L admit exactly
// min(N, L).
//
// # Periods and time zones
//
// Period keys name calendar months ("2024-05") derived in the billing
// time zone configured with WithTimeZone (default UTC). Unused credits
// expire at rollover; each month's counter starts at zero.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	org_01h2xcejqtf2nbrexx3vqjhp41   // Organization ID
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan ID
//	aud_01h455vb4pex5vsknk084sn02q   // Audit entry ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package ledger
