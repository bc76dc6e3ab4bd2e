package api

import (
	"fmt"
	"net/http"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
)

// QueueConnector hands out the rmq connection, opening it on first use
type QueueConnector interface {
	Connection() (rmq.Connection, error)
}

type QueueStatsHandler struct {
	queues QueueConnector
}

func NewQueueStatsHandler(queues QueueConnector) *QueueStatsHandler {
	return &QueueStatsHandler{queues: queues}
}

func (handler *QueueStatsHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	layout := request.FormValue("layout")
	refresh := request.FormValue("refresh")

	connection, err := handler.queues.Connection()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open rmq connection")
		writer.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(writer, err)
		return
	}

	queues, err := connection.GetOpenQueues()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list rmq queues")
		writer.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(writer, err)
		return
	}

	stats, err := connection.CollectStats(queues)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect rmq stats")
		writer.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(writer, err)
		return
	}

	fmt.Fprint(writer, stats.GetHtml(layout, refresh))
}
