// Package egress is the consumed interface of the external bulk-data
// ingestion service. It posts experiment result records and checks the
// service health; the service itself lives outside this repository.
package egress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/hardware"
)

// Client posts experiment data to POST /data/<clientID> and probes
// GET /health.
type Client struct {
	clientID string
	baseURL  string
	http     *http.Client
}

// NewClient builds an egress client for the given node identity.
func NewClient(clientID, address string, port int, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		clientID: clientID,
		baseURL:  fmt.Sprintf("http://%s:%d", address, port),
		http:     &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	ExperimentName string            `json:"experimentName,omitempty"`
	Data           []hardware.Record `json:"data"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Saved   string `json:"saved"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Send posts records tagged with an optional experiment name. Returns
// the filename the service reports having saved.
func (c *Client) Send(records []hardware.Record, experimentName string) (string, error) {
	if len(records) == 0 {
		return "", errors.New("no records to send")
	}

	body, err := json.Marshal(sendRequest{ExperimentName: experimentName, Data: records})
	if err != nil {
		return "", errors.Wrap(err, "marshal egress payload")
	}

	url := fmt.Sprintf("%s/data/%s", c.baseURL, c.clientID)
	resp, err := c.http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "post experiment data")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read egress response")
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.Wrapf(err, "decode egress response %q", string(raw))
	}
	if resp.StatusCode != http.StatusOK || parsed.Status == "error" {
		return "", errors.Errorf("egress rejected data: http %d: %s", resp.StatusCode, parsed.Message)
	}

	log.Debug().
		Str("client_id", c.clientID).
		Str("saved", parsed.Saved).
		Msg("Experiment data posted")
	return parsed.Saved, nil
}

// CheckHealth reports whether the data service answers GET /health with
// an online status.
func (c *Client) CheckHealth() bool {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		log.Warn().Err(err).Str("client_id", c.clientID).Msg("Data service health check failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var parsed healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false
	}
	return parsed.Status == "online"
}
