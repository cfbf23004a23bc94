package models

// ListenerMessage is what an upstream listener sends over the /ws/listener
// connection. Exactly one of Event or Result is set, selected by Type.
type ListenerMessage struct {
	Type   string            `json:"type"` // "analysis_event" or "correlated_result"
	Event  *AnalysisEvent    `json:"event,omitempty"`
	Result *CorrelatedResult `json:"result,omitempty"`
}

// ListenerAck is the server's reply to one listener message.
type ListenerAck struct {
	Type    string `json:"type"` // "ack" or "error"
	BatchID string `json:"batch_id,omitempty"`
	Error   string `json:"error,omitempty"`
}
