package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OpenMeterSink posts usage events to an external meter. Emission happens on
// a goroutine so the request path never waits on the meter.
type OpenMeterSink struct {
	url    string
	token  string
	client *http.Client
}

// NewOpenMeterSink targets the /api/v1/events ingest endpoint at url.
func NewOpenMeterSink(url, token string) *OpenMeterSink {
	return &OpenMeterSink{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// cloudEvent is the ingest envelope OpenMeter expects.
type cloudEvent struct {
	SpecVersion string `json:"specversion"`
	ID          string `json:"id"`
	Source      string `json:"source"`
	Type        string `json:"type"`
	Subject     string `json:"subject"`
	Time        string `json:"time"`
	Data        Event  `json:"data"`
}

// Record implements Sink. Best-effort: failures are logged and swallowed.
func (s *OpenMeterSink) Record(_ context.Context, evt Event) {
	go func() {
		ce := cloudEvent{
			SpecVersion: "1.0",
			ID:          uuid.NewString(),
			Source:      "attach-gateway",
			Type:        "tokens",
			Subject:     evt.User,
			Time:        evt.Timestamp.UTC().Format(time.RFC3339),
			Data:        evt,
		}
		body, err := json.Marshal(ce)
		if err != nil {
			log.Error().Err(err).Msg("openmeter: marshal event")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			log.Error().Err(err).Msg("openmeter: build request")
			return
		}
		req.Header.Set("Content-Type", "application/cloudevents+json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			log.Warn().Err(err).Msg("openmeter: emit failed")
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Warn().Int("status", resp.StatusCode).Msg("openmeter: emit rejected")
		}
	}()
}
