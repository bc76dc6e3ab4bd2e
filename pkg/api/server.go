package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/api/routes"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/database"
	"github.com/travigo/sytral-relay/pkg/hub"
)

type Server struct {
	Listen string

	Hub    *hub.Hub
	Store  database.DataStore
	Latest routes.LatestBatchSource
	Broker config.BrokerConfig

	Checks map[string]routes.HealthCheck
	Status routes.StatusSource

	// Queues enables the rmq queue overview when the rmq driver is used
	Queues QueueConnector
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) webApp() *fiber.App {
	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	webApp.Use(NewLogger())
	webApp.Use(cors.New())

	group := webApp.Group("/api")

	group.Get("/version", routes.APIVersion)

	routes.VehiclesRouter(group.Group("/vehicles"), s.Store, s.Latest)
	routes.InfoRouter(group, s.Store, s.Broker)
	routes.HealthRouter(group, s.Checks, s.Status)

	return webApp
}

// Handler serves the websocket endpoint and metrics directly on net/http, as
// upgrades need the hijackable response writer, and everything else via fiber
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		connection, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to upgrade websocket")
			return
		}

		if err := s.Hub.Serve(ctx, connection); err != nil {
			log.Debug().Err(err).Msg("Websocket session ended with error")
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	if s.Queues != nil {
		mux.Handle("/api/queues", NewQueueStatsHandler(s.Queues))
	}
	mux.Handle("/", adaptor.FiberApp(s.webApp()))

	return mux
}

// Run serves until ctx is cancelled, then shuts the listener down and closes
// every live websocket session
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Listen,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.Listen).Msg("Starting web server")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
