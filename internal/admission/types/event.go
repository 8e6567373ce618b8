package types

// AccountSummary is the denormalized account view carried on broadcast
// events. Present only when the card matched an account.
type AccountSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	PointsRemaining int    `json:"pointsRemaining"`
}

// BroadcastEvent is the transient notification pushed to every connected
// dashboard for one admission decision. It is never persisted.
type BroadcastEvent struct {
	Status           Outcome         `json:"status"`
	Message          *string         `json:"message"`
	Account          *AccountSummary `json:"account,omitempty"`
	CardID           string          `json:"cardId"`
	DeviceID         string          `json:"deviceId"`
	PointsDeducted   int             `json:"pointsDeducted"`
	IsToleranceEntry bool            `json:"isToleranceEntry"`
	Timestamp        string          `json:"timestamp"`
}
