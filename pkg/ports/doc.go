/*
Package ports defines the driven ports (interfaces) for the blueprint engine.

These interfaces decouple the conversation core from storage backends, the
language-generation collaborator and notification sinks.

# Key Interfaces

  - RecordStore: persists serialized session records (local durable store and remote store).
  - SyncQueue: durable FIFO of remote writes that have not been applied yet.
  - Generator: the language-generation collaborator (a black-box oracle).
  - DistributedLocker: distributed locking for concurrent session access across replicas.
  - Notifier: non-blocking channel for degraded-mode and diagnostic notices.
*/
package ports
