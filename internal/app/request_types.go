package app

// ExecuteActionRequest is the input for a direct action call.
type ExecuteActionRequest struct {
	Action    string         `json:"action"`
	Args      map[string]any `json:"args"`
	MessageID string         `json:"message_id"`
	SenderID  string         `json:"sender_id,omitempty"`
}
