package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/zinwlad/game-timer/internal/display"
	"github.com/zinwlad/game-timer/internal/enforce"
)

// Message types sent to clients.
const (
	TypeNotification = "notification"
	TypeCountdown    = "countdown"
	TypeBlock        = "block"
	TypeHideBlock    = "hide_block"
	TypePrompt       = "prompt"
	TypePromptClosed = "prompt_closed"
)

// Message types accepted from clients.
const (
	TypeUnlock            = "unlock"
	TypeClosedWithinGrace = "closed_within_grace"
	TypePromptAnswer      = "prompt_answer"
)

// Message is the JSON frame exchanged with clients.
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Text    string `json:"text,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
	Answer  string `json:"answer,omitempty"`
}

// ErrClosed is returned by display calls after Close.
var ErrClosed = errors.New("ws: display closed")

// Server is a display surface that forwards everything to WebSocket
// clients, e.g. an overlay running on the gaming machine.
type Server struct {
	logger   zerolog.Logger
	hub      *hub
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	closeOnce sync.Once

	mu      sync.Mutex
	ctrl    display.Controller
	prompts map[string]chan enforce.PromptAnswer
}

// NewServer creates the bridge and starts its hub.
func NewServer(addr string, logger zerolog.Logger) *Server {
	log := logger.With().Str("component", "display-ws").Logger()
	s := &Server{
		logger:  log,
		hub:     newHub(log),
		prompts: make(map[string]chan enforce.PromptAnswer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go s.hub.run()
	return s
}

// checkOrigin admits clients without an Origin header (native overlays)
// and pages served from the loopback interface. Any other page open in a
// browser on the machine is refused.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || loopbackOrigin(origin) {
		return true
	}
	s.logger.Warn().Str("origin", origin).Str("remote", r.RemoteAddr).Msg("Rejected WebSocket client from foreign origin")
	return false
}

func loopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// SetController wires inbound unlock and closed messages.
func (s *Server) SetController(c display.Controller) {
	s.mu.Lock()
	s.ctrl = c
	s.mu.Unlock()
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return s.hub.count()
}

// Run serves until ctx is cancelled, then closes the bridge.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("Starting display bridge")
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("display bridge: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			s.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close disconnects every client and fails pending prompts.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.hub.done)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	select {
	case s.hub.register <- conn:
	case <-s.hub.done:
		conn.Close()
		return
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Display client connected")

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("Display client closed unexpectedly")
			}
			break
		}
		s.handleMessage(msg)
	}

	select {
	case s.hub.unregister <- conn:
	case <-s.hub.done:
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Display client disconnected")
}

func (s *Server) handleMessage(msg Message) {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()

	switch msg.Type {
	case TypePromptAnswer:
		s.mu.Lock()
		ch, ok := s.prompts[msg.ID]
		delete(s.prompts, msg.ID)
		s.mu.Unlock()
		if !ok {
			s.logger.Debug().Str("id", msg.ID).Msg("Answer for unknown prompt")
			return
		}
		ch <- display.ParseAnswer(msg.Answer)
	case TypeUnlock:
		if ctrl == nil {
			return
		}
		if err := ctrl.UnlockRequested(); err != nil {
			s.logger.Debug().Err(err).Msg("Unlock rejected")
		}
	case TypeClosedWithinGrace:
		if ctrl != nil {
			ctrl.MonitoredAppClosed()
		}
	default:
		s.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
	}
}

func (s *Server) send(ctx context.Context, msg Message) error {
	select {
	case s.hub.broadcast <- msg:
		return nil
	case <-s.hub.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) ShowNotification(ctx context.Context, text string) error {
	return s.send(ctx, Message{Type: TypeNotification, Text: text})
}

func (s *Server) ShowCountdown(ctx context.Context, seconds int) error {
	return s.send(ctx, Message{Type: TypeCountdown, Seconds: seconds})
}

func (s *Server) ShowBlock(ctx context.Context) error {
	return s.send(ctx, Message{Type: TypeBlock})
}

func (s *Server) HideBlock(ctx context.Context) error {
	return s.send(ctx, Message{Type: TypeHideBlock})
}

// PromptAutoStart broadcasts a prompt and waits for the first answer
// carrying its id. With no client connected it reports a timeout at once.
func (s *Server) PromptAutoStart(ctx context.Context, text string) (enforce.PromptAnswer, error) {
	if s.Clients() == 0 {
		return enforce.PromptTimeout, nil
	}

	id := uuid.NewString()
	ch := make(chan enforce.PromptAnswer, 1)
	s.mu.Lock()
	s.prompts[id] = ch
	s.mu.Unlock()

	if err := s.send(ctx, Message{Type: TypePrompt, ID: id, Text: text}); err != nil {
		s.dropPrompt(id)
		return enforce.PromptTimeout, err
	}

	select {
	case answer := <-ch:
		return answer, nil
	case <-s.hub.done:
		s.dropPrompt(id)
		return enforce.PromptTimeout, ErrClosed
	case <-ctx.Done():
		s.dropPrompt(id)
		_ = s.send(context.Background(), Message{Type: TypePromptClosed, ID: id})
		return enforce.PromptTimeout, nil
	}
}

func (s *Server) dropPrompt(id string) {
	s.mu.Lock()
	delete(s.prompts, id)
	s.mu.Unlock()
}
