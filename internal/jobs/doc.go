// Package jobs models asynchronous generation jobs and polls them to
// completion.
//
// A job is submitted through the Client interface, identified by an opaque
// provider id, and observed through status snapshots until it settles. The
// Poller owns the polling protocol: fixed per-kind intervals, bounded attempt
// budgets, in-place tolerance for transient query failures, and result
// extraction on success. Providers are opaque; anything that can submit a
// request and report job status can back this package.
package jobs
