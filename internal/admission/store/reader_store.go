package store

import (
	"context"
	"time"
)

// ReaderRecord tracks a physical card reader by the device id it reports.
type ReaderRecord struct {
	DeviceID        string
	FirmwareVersion string
	IP              string
	FirstSeen       time.Time
	LastSeen        time.Time
}

// ReaderStore keeps reader liveness. It never holds admission data.
type ReaderStore interface {
	// Touch creates the reader on first sight and refreshes LastSeen.
	// Empty FirmwareVersion/IP leave the stored values unchanged.
	Touch(ctx context.Context, rec ReaderRecord) error
	List(ctx context.Context) ([]ReaderRecord, error)
	PruneSilentSince(ctx context.Context, cutoff time.Time) (int64, error)
}
