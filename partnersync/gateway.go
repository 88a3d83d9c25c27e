package partnersync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"immersion/convention"
)

// HTTPGateway broadcasts conventions to the partner's REST endpoint. The
// partner deduplicates on the convention id, which makes retries safe.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type broadcastBody struct {
	ConventionID  string     `json:"conventionId"`
	AgencyID      string     `json:"agencyId"`
	Siret         string     `json:"siret"`
	Status        string     `json:"status"`
	DateStart     time.Time  `json:"dateStart"`
	DateEnd       time.Time  `json:"dateEnd"`
	DateValidated *time.Time `json:"dateValidated,omitempty"`
}

func (g *HTTPGateway) BroadcastConvention(ctx context.Context, c convention.Convention) error {
	body, err := json.Marshal(broadcastBody{
		ConventionID:  c.ID,
		AgencyID:      c.AgencyID,
		Siret:         c.Siret,
		Status:        string(c.Status),
		DateStart:     c.DateStart,
		DateEnd:       c.DateEnd,
		DateValidated: c.DateValidated,
	})
	if err != nil {
		return fmt.Errorf("partnersync: encode broadcast: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/conventions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("partnersync: build broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("partnersync: broadcast convention %s: %w", c.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("partnersync: partner returned %d for convention %s: %s", resp.StatusCode, c.ID, detail)
	}
	return nil
}
