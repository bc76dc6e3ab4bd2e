package feedpoller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/travigo/sytral-relay/pkg/config"
)

var ErrMissingCredentials = errors.New("feed username and password must both be set")

// Source returns the raw body of one feed fetch
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type HTTPSource struct {
	URL      string
	Username string
	Password string

	Client *http.Client
}

// NewHTTPSource resolves the feed credentials once. Missing credentials are
// fatal for the poller.
func NewHTTPSource(cfg config.FeedConfig) (*HTTPSource, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, ErrMissingCredentials
	}

	return &HTTPSource{
		URL:      cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		Client:   &http.Client{},
	}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.Username, s.Password)
	req.Header.Set("User-Agent", "curl/7.54.1")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}
