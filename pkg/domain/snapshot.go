package domain

// Snapshot is the read model handed to renderers.
type Snapshot struct {
	SessionID  string               `json:"session_id"`
	Stage      StageID              `json:"stage"`
	Completion float64              `json:"completion"`
	Fields     []CapturedField      `json:"fields"`
	Pending    *PendingConfirmation `json:"pending,omitempty"`
	SubStep    *Address             `json:"sub_step,omitempty"`
	Prompt     *Prompt              `json:"prompt,omitempty"`
	LocalOnly  bool                 `json:"local_only,omitempty"`
	Complete   bool                 `json:"complete"`
}
