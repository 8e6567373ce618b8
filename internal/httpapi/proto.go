package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
)

// maxRequestBody caps request bodies for both protobuf and JSON. Reader
// payloads are well under 1 KiB.
const maxRequestBody = 4096

const contentTypeProtobuf = "application/x-protobuf"

// isProtobuf reports whether the body is a protobuf message. Readers with
// constrained firmware send google.protobuf.Struct instead of JSON.
func isProtobuf(r *http.Request) bool {
	ct, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
	switch strings.TrimSpace(ct) {
	case contentTypeProtobuf, "application/protobuf", "application/octet-stream":
		return true
	}
	return false
}

func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// ── Access ───────────────────────────────────────────────────────────────────

// accessRequestFromStruct reads card_id and device_id. Non-string values are
// rejected rather than coerced.
func accessRequestFromStruct(s *structpb.Struct) (types.AccessRequest, error) {
	var req types.AccessRequest
	for key, dst := range map[string]*string{"card_id": &req.CardID, "device_id": &req.DeviceID} {
		v, ok := s.GetFields()[key]
		if !ok {
			continue
		}
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return types.AccessRequest{}, fmt.Errorf("%s must be a string", key)
		}
		*dst = sv.StringValue
	}
	return req, nil
}

func accessResponseToStruct(r types.AccessResponse) (*structpb.Struct, error) {
	var msg any
	if r.Message != nil {
		msg = *r.Message
	}
	return structpb.NewStruct(map[string]any{
		"status":             string(r.Status),
		"message":            msg,
		"points_deducted":    r.PointsDeducted,
		"is_tolerance_entry": r.IsToleranceEntry,
		"points_remaining":   r.PointsRemaining,
		"timestamp":          r.Timestamp,
	})
}
