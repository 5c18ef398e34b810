// Package durable runs resumable, signal-driven workflows on top of a
// persisted journal.
//
// A workflow is a plain Go function that is re-executed from the top every
// time its run is resumed. Side effects go through [Step], which journals the
// result the first time and replays it afterwards, so a resumed run never
// repeats a gateway call or a delivery attempt that already happened.
//
//	func charge(wf *durable.Context) (any, error) {
//	    out, err := durable.Step(wf, "submit", func(ctx context.Context) (Outcome, error) {
//	        return gateway.Submit(ctx, req)
//	    })
//	    ...
//	    sig, err := wf.Await("confirmation", 15*time.Minute, "cancel", "complete")
//	    if err != nil {
//	        return nil, err // suspended, or the run was aborted
//	    }
//	    if sig == nil {
//	        // timed out
//	    }
//	}
//
// # Signals
//
// Signals are appended to the run's inbox by [Engine.Signal], whether or not
// the run has reached the matching Await yet. Await consumes at most one
// signal and journals which one; later signals stay in the inbox unapplied.
// Signal names passed to Await are evaluated in priority order.
//
// # Runs
//
// A [Run] moves through these states:
//
//	running → suspended → running → ... → completed
//	running → failed
//
// Suspended runs carry WakeAt when their wait has a deadline; [Engine.RunDue]
// resumes every run whose WakeAt has passed.
package durable
