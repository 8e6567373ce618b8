package broadcast

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
)

// SSE event names.
const (
	EventConnected = "connected"
	EventAccess    = "access"
)

// KeepaliveFrame is an SSE comment; browsers ignore it but proxies see
// traffic on an idle stream.
var KeepaliveFrame = []byte(": keepalive\n\n")

type connectedPayload struct {
	ClientID string `json:"clientId"`
}

// EncodeEvent renders ev as a single SSE frame.
func EncodeEvent(ev types.BroadcastEvent) ([]byte, error) {
	return encodeFrame(EventAccess, ev)
}

// ConnectedFrame is sent once, first, on every new stream.
func ConnectedFrame(clientID string) []byte {
	b, err := encodeFrame(EventConnected, connectedPayload{ClientID: clientID})
	if err != nil {
		// connectedPayload always marshals.
		panic(err)
	}
	return b
}

func encodeFrame(event string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(event) + len(data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
