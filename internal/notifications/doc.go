// Package notifications delivers run events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover the run milestones so the daemon can
// emit consistent, user-friendly messages without duplicating HTTP glue, and
// the per-event toggles in the notifications config section suppress the
// events a user does not care about.
//
// Extend this package if you need alternative transports; callers depend only
// on the Service interface.
package notifications
