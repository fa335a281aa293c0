package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Remote is an HTTP client for a sampling sidecar (simulator farm or
// hardware gateway). It implements the same capability interface as the
// in-process surrogate, so the hybrid loop cannot tell them apart.
type Remote struct {
	baseURL       string
	numParameters int
	client        *http.Client
	log           zerolog.Logger
}

// NewRemote creates a new remote sampler client. numParameters is the
// expected theta length for the circuit registered with the sidecar.
func NewRemote(baseURL string, numParameters int, log zerolog.Logger) *Remote {
	return &Remote{
		baseURL:       baseURL,
		numParameters: numParameters,
		client: &http.Client{
			Timeout: 120 * time.Second, // circuit execution can take a while
		},
		log: log.With().Str("client", "remote_sampler").Logger(),
	}
}

// NumParameters returns the expected theta length.
func (r *Remote) NumParameters() int {
	return r.numParameters
}

type sampleRequest struct {
	Theta []float64 `json:"theta"`
	Shots int       `json:"shots"`
}

type sampleResponse struct {
	Counts map[string]int `json:"counts"`
	Error  *string        `json:"error"`
}

// Sample posts the parameter vector to the sidecar and validates the
// returned frequency table against the oracle contract before handing it
// to the caller.
func (r *Remote) Sample(ctx context.Context, theta []float64, shots int) (*Batch, error) {
	if err := validateRequest(r.numParameters, theta, shots); err != nil {
		return nil, err
	}

	body, err := json.Marshal(sampleRequest{Theta: theta, Shots: shots})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/sample", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create sample request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sampler request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sampler returned status %d: %s", resp.StatusCode, string(payload))
	}

	var decoded sampleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode sampler response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("sampler error: %s", *decoded.Error)
	}

	total := 0
	keyLen := -1
	for key, freq := range decoded.Counts {
		if freq < 0 {
			return nil, fmt.Errorf("sampler returned negative frequency for %q", key)
		}
		if keyLen == -1 {
			keyLen = len(key)
		} else if len(key) != keyLen {
			return nil, fmt.Errorf("sampler returned inconsistent bitstring lengths (%d and %d)", keyLen, len(key))
		}
		total += freq
	}
	if total != shots {
		return nil, fmt.Errorf("sampler frequencies sum to %d, expected %d shots", total, shots)
	}

	r.log.Debug().
		Int("shots", shots).
		Int("distinct", len(decoded.Counts)).
		Dur("elapsed", time.Since(start)).
		Msg("Remote sample completed")

	return &Batch{Counts: decoded.Counts, Shots: shots}, nil
}
