package hub

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	writeDeadline  = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongDeadline   = 60 * time.Second
	maxMessageSize = 64 << 10
)

var ErrLagged = errors.New("subscriber fell behind the lag bound")

type session struct {
	hub          *Hub
	connection   *websocket.Conn
	subscription *Subscription
}

// Serve runs one subscriber connection until either side ends it. The
// outbound writer and inbound reader race and whichever finishes first
// cancels the other. The subscriber is always deregistered on return.
func (h *Hub) Serve(ctx context.Context, connection *websocket.Conn) error {
	subscription := h.Register()
	defer h.Deregister(subscription.ID)

	s := &session{
		hub:          h,
		connection:   connection,
		subscription: subscription,
	}

	connection.SetReadLimit(maxMessageSize)
	s.updateReadDeadline()
	connection.SetPongHandler(func(string) error {
		s.updateReadDeadline()
		return nil
	})

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(s.writeLoop)
	p.Go(s.readLoop)

	err := p.Wait()

	logger := log.With().Uint64("id", subscription.ID).Logger()
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug().Msg("Subscriber closed connection")
		return nil
	case errors.Is(err, context.Canceled):
		logger.Debug().Msg("Subscriber session cancelled")
		return nil
	default:
		logger.Debug().Err(err).Msg("Subscriber session ended")
		return err
	}
}

// writeLoop owns every data write on the connection and closes it on exit,
// which unblocks the reader
func (s *session) writeLoop(ctx context.Context) error {
	defer s.connection.Close()

	ticker := s.hub.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.writeClose(websocket.CloseGoingAway, "")
			return ctx.Err()
		case <-s.subscription.Lagged():
			s.writeClose(websocket.CloseTryAgainLater, "lagged")
			return ErrLagged
		case frame := <-s.subscription.C():
			s.updateWriteDeadline()
			if err := s.connection.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.Chan():
			s.updateWriteDeadline()
			if err := s.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// readLoop hands text frames to the relay path. Binary frames are ignored and
// a close frame ends the session through the returned CloseError.
func (s *session) readLoop(ctx context.Context) error {
	for {
		messageType, payload, err := s.connection.ReadMessage()
		if err != nil {
			return err
		}
		s.updateReadDeadline()

		if messageType != websocket.TextMessage {
			continue
		}
		if !utf8.Valid(payload) {
			log.Debug().Uint64("id", s.subscription.ID).Msg("Ignoring text frame that is not valid UTF-8")
			continue
		}

		s.hub.Relay(string(payload))
	}
}

func (s *session) writeClose(code int, reason string) {
	deadline := s.hub.clock.Now().Add(writeDeadline)
	_ = s.connection.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

func (s *session) updateWriteDeadline() {
	_ = s.connection.SetWriteDeadline(s.hub.clock.Now().Add(writeDeadline))
}

func (s *session) updateReadDeadline() {
	_ = s.connection.SetReadDeadline(s.hub.clock.Now().Add(pongDeadline))
}
