package feedpoller

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/travigo/sytral-relay/pkg/ctdf"
	"github.com/travigo/sytral-relay/pkg/metrics"
)

type BatchPublisher interface {
	PublishBatch(ctx context.Context, batch ctdf.VehicleBatch) error
}

type Poller struct {
	Source    Source
	Parse     ParseFunc
	Filter    *Filter
	Publisher BatchPublisher

	Interval     time.Duration
	FetchTimeout time.Duration
	Clock        clockwork.Clock
}

// New builds a poller from the feed configuration. Missing credentials, an
// unknown format or a filter that does not compile are fatal.
func New(cfg config.FeedConfig, publisher BatchPublisher) (*Poller, error) {
	source, err := NewHTTPSource(cfg)
	if err != nil {
		return nil, err
	}

	parse, err := ParserFor(cfg.Format)
	if err != nil {
		return nil, err
	}

	filter, err := NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	return &Poller{
		Source:       source,
		Parse:        parse,
		Filter:       filter,
		Publisher:    publisher,
		Interval:     cfg.Interval,
		FetchTimeout: cfg.FetchTimeout,
		Clock:        clockwork.NewRealClock(),
	}, nil
}

// Run polls immediately and then once every interval until ctx is done. Fetch
// and publish failures are logged and the next tick tries again.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Str("interval", p.Interval.String()).Msg("Starting feed poller")

	for {
		p.Poll(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Clock.After(p.Interval):
		}
	}
}

// Poll runs a single fetch, parse and publish cycle
func (p *Poller) Poll(ctx context.Context) {
	batch, err := p.FetchBatch(ctx)
	if err != nil {
		metrics.FeedPollsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("Failed to fetch vehicle feed")
		return
	}
	metrics.FeedPollsTotal.WithLabelValues("ok").Inc()
	metrics.FeedVehiclesFetched.Add(float64(len(batch)))

	log.Debug().Int("vehicles", len(batch)).Msg("Fetched vehicle batch")

	if err := p.Publisher.PublishBatch(ctx, batch); err != nil {
		// already logged and counted by the publisher, the next tick starts over
		log.Debug().Err(err).Int("vehicles", len(batch)).Msg("Vehicle batch dropped")
	}
}

func (p *Poller) FetchBatch(ctx context.Context) (ctdf.VehicleBatch, error) {
	fetchCtx := ctx
	if p.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.FetchTimeout)
		defer cancel()
	}

	start := p.Clock.Now()
	body, err := p.Source.Fetch(fetchCtx)
	metrics.FeedFetchDuration.Observe(p.Clock.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	batch, err := p.Parse(body, p.Clock.Now())
	if err != nil {
		return nil, err
	}

	return p.Filter.Apply(batch)
}
