// Package storage persists phrase sources, channels, schedules and the
// publish log.
//
// Two drivers share one contract:
//   - sqlite (modernc.org/sqlite, single connection, WAL)
//   - postgres (pgx pool, row lock on dequeue)
//
// Dequeue is serialized twice: by a per-source in-process lock and by the
// driver transaction, so concurrent triggers in one process never read the
// same cursor and multiple processes on postgres stay correct too.
package storage
