/*
Package observability provides monitoring for the blueprint engine.

Metrics exposes Prometheus collectors fed by the engine's lifecycle hooks and
the persistence coordinator's hooks. LoggingHooks audits the same events
through a structured logger.
*/
package observability
