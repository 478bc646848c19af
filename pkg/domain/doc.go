/*
Package domain contains the core domain models of the Blueprint authoring engine.

It defines the entities that the guided-authoring state machine operates on: the
Session being authored, its captured fields, the pending confirmation, micro-step
addresses, and the commands the machine emits for the host to carry out. This
package is kept pure and free of I/O or persistence concerns, following
Hexagonal Architecture principles.

# Key Entities

  - Session: the authored document in progress (fields, stage, sub-step, pending value).
  - CapturedField: a single dotted-key value such as "topic1.value".
  - PendingConfirmation: a proposed value awaiting explicit accept or refine.
  - StageID: the closed, totally ordered set of blueprint stages.
  - Command: a side-effect request (prompt, persist, notify, generate) returned by a transition.
*/
package domain
