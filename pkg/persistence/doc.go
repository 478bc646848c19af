/*
Package persistence coordinates session writes.

Every save is written to the local durable store first and synchronously. The
remote store is written afterwards; transient failures are retried with
exponential backoff and, once the retry budget is spent, the payload is appended
to the durable sync queue, which Drain replays in FIFO order. Permanent failures
(authorization or permission) are never retried: the session continues in
local-only mode and a single degraded-mode notice is emitted.

Writes for one session ID never overlap: RunExclusive serializes them in
submission order, and the lock is held for one write attempt at a time.
Results that belong to a superseded write (a newer sequence number, or a reset
that moved the epoch) are ignored.
*/
package persistence
