package domain

// Quality is the heuristic grade of a raw input.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Decision is the outcome of the quality gate for one input.
type Decision string

const (
	DecisionAcceptImmediate Decision = "accept_immediate"
	DecisionAwaitConfirm    Decision = "await_confirm"
	DecisionAwaitRefine     Decision = "await_refine"
)

// Reply classifies an answer given while a confirmation is pending.
type Reply string

const (
	ReplyAffirm  Reply = "affirm"  // Commit the pending value
	ReplyRefine  Reply = "refine"  // Discard the pending value and re-prompt
	ReplyReplace Reply = "replace" // Treat the input as a new proposed value
)
