package types

// ReaderHeartbeatRequest is posted periodically by physical card readers.
type ReaderHeartbeatRequest struct {
	DeviceID        string `json:"deviceId" validate:"required,max=64"`
	FirmwareVersion string `json:"firmwareVersion,omitempty" validate:"omitempty,max=64"`
	UptimeSeconds   uint64 `json:"uptimeS,omitempty"`
}

type ReaderHeartbeatResponse struct {
	OK         bool   `json:"ok"`
	DeviceID   string `json:"deviceId"`
	ServerTime string `json:"serverTime"`
}

// Reader is the staff-facing view of one reader.
type Reader struct {
	DeviceID        string `json:"deviceId"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	IP              string `json:"ip,omitempty"`
	FirstSeen       string `json:"firstSeen"`
	LastSeen        string `json:"lastSeen"`
}
