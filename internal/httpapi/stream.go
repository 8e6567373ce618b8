package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/broadcast"
)

const streamWriteTimeout = 10 * time.Second

// handleEvents holds a server-sent event stream open for one dashboard.
// Authorization has already happened in middleware, so no error is ever
// reported after the 200 header.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	client, err := s.hub.Register()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event stream is shutting down")
		return
	}
	defer s.hub.Unregister(client)

	rc := http.NewResponseController(w)
	write := func(frame []byte) error {
		if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		return rc.Flush()
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := write(broadcast.ConnectedFrame(client.ID())); err != nil {
		s.logger.Debug("event stream open failed", "client_id", client.ID(), "err", err)
		return
	}
	client.Activate()

	p, _ := PrincipalFrom(r.Context())
	s.logger.Info("event stream opened", "client_id", client.ID(), "subject", p.Subject, "role", p.Role)
	defer s.logger.Info("event stream closed", "client_id", client.ID())

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done():
			return
		case frame := <-client.Frames():
			if err := write(frame); err != nil {
				s.logger.Debug("event stream write failed", "client_id", client.ID(), "err", err)
				return
			}
		case <-ticker.C:
			if err := write(broadcast.KeepaliveFrame); err != nil {
				return
			}
		}
	}
}
