/*
Package session implements the session repository.

The Manager loads sessions local-first, falling back to the remote store,
and passes every stored record through the recovery validator so malformed
data never reaches the conversation core. Writes go through the persistence
coordinator. WithLock serializes read-modify-write cycles on one session
within the process.
*/
package session
