package siri_vm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

// SiriLite is the root of a SIRI-lite VehicleMonitoring JSON document.
// Activities are kept raw so a malformed one can be skipped on its own.
type SiriLite struct {
	Siri struct {
		ServiceDelivery struct {
			ResponseTimestamp string

			VehicleMonitoringDelivery []struct {
				ResponseTimestamp string

				VehicleActivity []json.RawMessage
			}
		}
	}
}

// ParseVehicles decodes a SIRI-lite document into a batch. Only a document that
// is not JSON at all, or whose envelope has the wrong shape, is an error.
func ParseVehicles(body []byte, receivedAt time.Time) (ctdf.VehicleBatch, error) {
	var document SiriLite
	if err := json.Unmarshal(body, &document); err != nil {
		return nil, fmt.Errorf("decode siri-lite document: %w", err)
	}

	batch := ctdf.VehicleBatch{}
	skipped := 0

	for _, delivery := range document.Siri.ServiceDelivery.VehicleMonitoringDelivery {
		for _, rawActivity := range delivery.VehicleActivity {
			var activity VehicleActivity
			if err := json.Unmarshal(rawActivity, &activity); err != nil {
				skipped++
				log.Debug().Err(err).Msg("Skipping malformed vehicle activity")
				continue
			}

			vehicle, ok := activity.Vehicle(receivedAt)
			if !ok {
				continue
			}

			batch = append(batch, vehicle)
		}
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("Skipped malformed vehicle activities")
	}

	return batch, nil
}
