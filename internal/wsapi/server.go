package wsapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/service"
	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

type Dependencies struct {
	Logger   zerolog.Logger
	Sessions *service.SessionService
	Clients  *service.ClientRegistry
	Devices  service.DeviceLister

	// AllowedOrigins restricts browser upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// Server upgrades device and dashboard connections and pumps frames between
// the sockets and the service layer.
type Server struct {
	log      zerolog.Logger
	sessions *service.SessionService
	clients  *service.ClientRegistry
	devices  service.DeviceLister
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		log:      d.Logger.With().Str("component", "wsapi").Logger(),
		sessions: d.Sessions,
		clients:  d.Clients,
		devices:  d.Devices,
		conns:    make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(d.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// Mount registers the WebSocket routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/ws/device", s.handleDevice)
	r.Get("/ws/device/{deviceId}", s.handleDevice)
	r.Get("/ws/client", s.handleClient)
}

// CloseAll closes every open socket and refuses new upgrades.
func (s *Server) CloseAll() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if len(conns) > 0 {
		s.log.Info().Int("connections", len(conns)).Msg("closed websocket connections")
	}
}

// Open is the number of tracked sockets.
func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, kind string) (*conn, bool) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return nil, false
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.log.Debug().Err(err).Str("kind", kind).Msg("websocket upgrade")
		return nil, false
	}

	c := newConn(ws, kind, s.log)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	go c.writeLoop()
	return c, true
}

func (s *Server) untrack(c *conn) {
	_ = c.Close()
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	c, ok := s.upgrade(w, r, "device")
	if !ok {
		return
	}
	ctx := r.Context()
	sess := s.sessions.Open(c, chi.URLParam(r, "deviceId"))
	c.log.Info().Str("remote", r.RemoteAddr).Msg("device socket opened")

	defer func() {
		sess.Close(ctx)
		s.untrack(c)
		c.log.Info().Msg("device socket closed")
	}()

	c.readLoop(func(data []byte) {
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.log.Warn().Err(err).Msg("malformed device frame")
			s.reply(c, errorFrame("bad_frame", "frames must be {\"event\": string, \"data\": object}"))
			return
		}
		if err := sess.Handle(ctx, env); err != nil {
			code, msg := classify(err)
			if code == "internal_error" {
				c.log.Error().Err(err).Str("event", env.Event).Msg("handle device frame")
			} else {
				c.log.Warn().Err(err).Str("event", env.Event).Msg("rejected device frame")
			}
			s.reply(c, errorFrame(code, msg))
		}
	})
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	c, ok := s.upgrade(w, r, "client")
	if !ok {
		return
	}
	userID := r.URL.Query().Get("userId")
	s.clients.Register(userID, c, s.devices)
	c.log.Info().Str("user_id", userID).Str("remote", r.RemoteAddr).Msg("dashboard socket opened")

	defer func() {
		s.clients.UnregisterByHandle(c)
		s.untrack(c)
		c.log.Info().Msg("dashboard socket closed")
	}()

	// Dashboards only listen; reading keeps the pong deadline alive.
	c.readLoop(func([]byte) {})
}

func (s *Server) reply(c *conn, msg types.Message) {
	if err := c.Send(msg); err != nil {
		c.log.Warn().Err(err).Str("event", msg.Event).Msg("send reply")
	}
}

func errorFrame(code, message string) types.Message {
	return types.Message{
		Event: types.MsgError,
		Data:  types.ErrorPayload{Code: code, Message: message},
	}
}

// classify maps service errors to the code reported in an error frame.
func classify(err error) (string, string) {
	switch {
	case errors.Is(err, service.ErrBadPayload):
		return "bad_payload", err.Error()
	case errors.Is(err, service.ErrUnknownEvent):
		return "unknown_event", err.Error()
	case errors.Is(err, service.ErrInvalidDeviceID):
		return "invalid_device_id", err.Error()
	case errors.Is(err, types.ErrInvalidDeviceType):
		return "invalid_device_type", err.Error()
	case errors.Is(err, ErrSendQueueFull), errors.Is(err, ErrConnClosed):
		return "send_failed", err.Error()
	default:
		return "internal_error", "unexpected server error"
	}
}
