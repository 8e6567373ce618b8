package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
)

var (
	ErrInvalidDeviceID = errors.New("deviceId is required")
)

// ReaderRegistry tracks which card readers have been heard from.
type ReaderRegistry struct {
	store store.ReaderStore
	now   func() time.Time
}

func NewReaderRegistry(st store.ReaderStore) *ReaderRegistry {
	return &ReaderRegistry{store: st, now: time.Now}
}

func (r *ReaderRegistry) NoteSeen(ctx context.Context, deviceID, firmware, ip string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	return r.store.Touch(ctx, store.ReaderRecord{
		DeviceID:        deviceID,
		FirmwareVersion: strings.TrimSpace(firmware),
		IP:              strings.TrimSpace(ip),
		LastSeen:        r.now().UTC(),
	})
}

// Heartbeat records a liveness ping from a reader.
func (r *ReaderRegistry) Heartbeat(ctx context.Context, req types.ReaderHeartbeatRequest, ip string) (types.ReaderHeartbeatResponse, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return types.ReaderHeartbeatResponse{}, ErrInvalidDeviceID
	}
	if err := r.NoteSeen(ctx, deviceID, req.FirmwareVersion, ip); err != nil {
		return types.ReaderHeartbeatResponse{}, err
	}
	return types.ReaderHeartbeatResponse{
		OK:         true,
		DeviceID:   deviceID,
		ServerTime: types.FormatTimestamp(r.now()),
	}, nil
}

func (r *ReaderRegistry) List(ctx context.Context) ([]types.Reader, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Reader, 0, len(recs))
	for _, rec := range recs {
		out = append(out, types.Reader{
			DeviceID:        rec.DeviceID,
			FirmwareVersion: rec.FirmwareVersion,
			IP:              rec.IP,
			FirstSeen:       types.FormatTimestamp(rec.FirstSeen),
			LastSeen:        types.FormatTimestamp(rec.LastSeen),
		})
	}
	return out, nil
}
