package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/turnstile/internal/admission/service"
	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
	"github.com/BrandonDHaskell/turnstile/internal/broadcast"
	"github.com/BrandonDHaskell/turnstile/internal/logging"
	"github.com/BrandonDHaskell/turnstile/internal/metrics"
)

const defaultKeepalive = 25 * time.Second

type Dependencies struct {
	Logger  *slog.Logger
	Addr    string
	Metrics *metrics.Metrics

	Engine  *service.Engine
	Readers *service.ReaderRegistry
	Hub     *broadcast.Hub
	Auth    *Authenticator

	// StreamRoles are the staff roles allowed on the event stream.
	StreamRoles    []string
	AllowedOrigins []string
	Keepalive      time.Duration
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	router     chi.Router
	validate   *validator.Validate

	engine    *service.Engine
	readers   *service.ReaderRegistry
	hub       *broadcast.Hub
	keepalive time.Duration
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Keepalive <= 0 {
		d.Keepalive = defaultKeepalive
	}
	if d.Auth == nil {
		// No secrets configured: every protected route answers 401.
		d.Auth = NewAuthenticator(nil, "")
	}

	s := &Server{
		logger:    d.Logger,
		validate:  validator.New(),
		engine:    d.Engine,
		readers:   d.Readers,
		hub:       d.Hub,
		keepalive: d.Keepalive,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger, d.Metrics))
	r.Use(middleware.Recoverer)
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(d.Auth.requireAuth([]PrincipalKind{PrincipalDevice, PrincipalStaff}, nil)).
			Post("/access", s.handleAccess)
		r.With(d.Auth.requireStreamAuth(d.StreamRoles)).
			Get("/events", s.handleEvents)

		r.With(d.Auth.requireAuth([]PrincipalKind{PrincipalDevice}, nil)).
			Post("/readers/heartbeat", s.handleHeartbeat)
		r.With(d.Auth.requireAuth([]PrincipalKind{PrincipalStaff}, nil)).
			Get("/readers", s.handleListReaders)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: event streams are long-lived and set their own
		// per-write deadlines.
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and closes the hub so open event
// streams return instead of holding Shutdown until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	asProto := isProtobuf(r)
	if !asProto && !isJSON(r) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type",
			"use application/json or application/x-protobuf")
		return
	}

	var req types.AccessRequest
	if asProto {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body")
			return
		}
		var err error
		if req, err = accessRequestFromStruct(&msg); err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", err.Error())
			return
		}
	} else {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	if err := s.validate.Struct(&req); err != nil {
		writeValidationError(w, err)
		return
	}

	decision, err := s.engine.Evaluate(r.Context(), req.CardID, req.DeviceID)
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidCardID):
		writeError(w, http.StatusBadRequest, "invalid_card_id", err.Error())
		return
	case errors.Is(err, service.ErrLogAppend):
		// The decision stands and the ledger is committed; only the audit
		// row is missing.
		s.logger.Error("access decided but not logged", "err", err)
		status = http.StatusInternalServerError
	default:
		s.logger.Error("access evaluation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	resp := decision.Response()
	if asProto {
		msg, err := accessResponseToStruct(resp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, status, msg)
		return
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if !isJSON(r) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "use application/json")
		return
	}

	var req types.ReaderHeartbeatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeValidationError(w, err)
		return
	}

	resp, err := s.readers.Heartbeat(r.Context(), req, clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidDeviceID) {
			writeError(w, http.StatusBadRequest, "invalid_device_id", err.Error())
			return
		}
		s.logger.Error("heartbeat failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListReaders(w http.ResponseWriter, r *http.Request) {
	readers, err := s.readers.List(r.Context())
	if err != nil {
		s.logger.Error("list readers failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readers": readers})
}

func isJSON(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && ct == "application/json"
}

// clientIP strips the port from RemoteAddr, which RealIP has already
// rewritten from X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
