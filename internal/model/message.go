package model

import "time"

// ContractorMessage is the normalized record extracted from one inbound email,
// independent of the mail system it came from.
type ContractorMessage struct {
	RequestNumber  string    `json:"request_number"`
	PositionNumber string    `json:"position_number,omitempty"`
	DetectedStatus string    `json:"detected_status,omitempty"`
	Comment        string    `json:"comment"`
	ReceivedAt     time.Time `json:"received_at"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
}

// HasRequestNumber reports whether the message could be tied to a request.
func (m ContractorMessage) HasRequestNumber() bool {
	return m.RequestNumber != ""
}
