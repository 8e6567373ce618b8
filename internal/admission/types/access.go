package types

// Outcome is the result of one card presentation.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeWarning Outcome = "warning"
)

// Reasons recorded on non-allowed outcomes.
const (
	ReasonUnregisteredCard = "unregistered card"
	ReasonNoPoints         = "no access points available"
)

// AccessRequest is the admission endpoint input. DeviceID falls back to the
// configured default reader when omitted.
type AccessRequest struct {
	CardID   string `json:"cardId" validate:"required,max=128"`
	DeviceID string `json:"deviceId,omitempty" validate:"omitempty,max=64"`
}

// AccessResponse is returned with 200 OK for every decision. Message is null
// for plain allowed entries.
type AccessResponse struct {
	Status           Outcome `json:"status"`
	Message          *string `json:"message"`
	PointsDeducted   int     `json:"pointsDeducted"`
	IsToleranceEntry bool    `json:"isToleranceEntry"`
	PointsRemaining  int     `json:"pointsRemaining"`
	Timestamp        string  `json:"timestamp"`
}
