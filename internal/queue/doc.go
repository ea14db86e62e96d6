// Package queue persists storyboards and their scenes in SQLite and exposes
// helpers for driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, heartbeat tracking, stale-run recovery, and the status transitions
// the daemon's run loop depends on. Storyboard rows carry progress and the
// aggregate run outcome; scene rows checkpoint each scene's pipeline stage so
// an interrupted run resumes from completed artifacts instead of regenerating
// them.
//
// The database is treated as transient storage for in-flight work rather than
// a long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or columns, update schema.sql and bump schemaVersion.
package queue
