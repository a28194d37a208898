package models

// MessageRequest is handed to the notification transport.
type MessageRequest struct {
	Type      DeliveryChannel   `json:"type"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Content   string            `json:"content"`
	Priority  TransportPriority `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SnippetRequest describes an advisory for which no authored content exists.
type SnippetRequest struct {
	Title       string
	Severity    Severity
	Signals     []Signal
	District    string
	CropType    *string
	GrowthStage *string
	Language    string
}
