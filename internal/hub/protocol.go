package hub

// Server → client messages. The monitor is read-only: clients watch a run,
// they cannot drive the console.

type LineMessage struct {
	Type  string `json:"type"` // "line"
	RunID string `json:"run_id"`
	Text  string `json:"text"`
	Ts    int64  `json:"ts"`
}

type StateMessage struct {
	Type  string `json:"type"` // "state"
	RunID string `json:"run_id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Ts    int64  `json:"ts"`
}

type ProgressMessage struct {
	Type  string `json:"type"` // "progress"
	RunID string `json:"run_id"`
	Pct   int    `json:"pct"`
	Ts    int64  `json:"ts"`
}

type ResultMessage struct {
	Type       string `json:"type"` // "result"
	RunID      string `json:"run_id"`
	Outcome    string `json:"outcome"`
	FinalState string `json:"final_state"`
	Reason     string `json:"reason"`
	DurationMs int64  `json:"duration_ms"`
	Ts         int64  `json:"ts"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}
