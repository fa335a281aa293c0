// Package baseline obtains classical reference solutions used to judge the
// quality of hybrid runs. References come from an exact-solver sidecar over
// HTTP, with a local continuous-relaxation fallback when no sidecar is
// reachable.
package baseline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// Reference is a classical solution for a model.
type Reference struct {
	Assignment problem.Assignment `json:"assignment"`
	// Cost is the unpenalized objective value of Assignment.
	Cost     float64 `json:"cost"`
	Feasible bool    `json:"feasible"`
	// Source names the producer: "solver" or "relaxation".
	Source string `json:"source"`
}

// Gap is the relative distance of a candidate cost from the reference cost.
// Positive means the candidate is worse than the reference on a minimization
// objective.
func Gap(candidate, reference float64) float64 {
	denom := reference
	if denom < 0 {
		denom = -denom
	}
	if denom < 1e-12 {
		denom = 1e-12
	}
	return (candidate - reference) / denom
}

// Client is an HTTP client for calling the exact-solver sidecar.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new solver sidecar client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 120 * time.Second, // Exact solving can take time
		},
		log: log.With().Str("client", "baseline-solver").Logger(),
	}
}

// Request types (mirror the sidecar API)

type solveRequest struct {
	Name        string           `json:"name"`
	Variables   []string         `json:"variables"`
	Constant    float64          `json:"constant"`
	Linear      []float64        `json:"linear"`
	Quadratic   []quadraticTerm  `json:"quadratic"`
	Constraints []wireConstraint `json:"constraints"`
}

type quadraticTerm struct {
	I     int     `json:"i"`
	J     int     `json:"j"`
	Coeff float64 `json:"coeff"`
}

type wireConstraint struct {
	Name         string    `json:"name"`
	Coefficients []float64 `json:"coefficients"`
	Lower        *float64  `json:"lower,omitempty"`
	Upper        *float64  `json:"upper,omitempty"`
}

// serviceResponse is the standard response format from the sidecar.
type serviceResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

type solveResult struct {
	Assignment []uint8 `json:"assignment"`
	Cost       float64 `json:"cost"`
	Optimal    bool    `json:"optimal"`
}

// Solve submits the full model and returns the sidecar's solution. The
// returned cost is recomputed locally so the reference stays consistent with
// this process's own objective arithmetic.
func (c *Client) Solve(ctx context.Context, m *problem.Model) (*Reference, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	req := solveRequest{
		Name:      m.Name,
		Variables: m.Variables,
		Constant:  m.Objective.Constant,
		Linear:    m.Objective.Linear,
	}
	for _, q := range m.Objective.Quadratic {
		req.Quadratic = append(req.Quadratic, quadraticTerm{I: q.I, J: q.J, Coeff: q.Coefficient})
	}
	for _, con := range m.Constraints {
		wc := wireConstraint{Name: con.Name, Coefficients: con.Coefficients}
		if !isInf(con.Lower) {
			lo := con.Lower
			wc.Lower = &lo
		}
		if !isInf(con.Upper) {
			hi := con.Upper
			wc.Upper = &hi
		}
		req.Constraints = append(req.Constraints, wc)
	}

	var result solveResult
	if err := c.post(ctx, "/solve", req, &result); err != nil {
		return nil, err
	}
	if len(result.Assignment) != m.NumVariables() {
		return nil, fmt.Errorf("sidecar returned %d-bit assignment for %d variables", len(result.Assignment), m.NumVariables())
	}

	a := problem.Assignment(result.Assignment)
	ref := &Reference{
		Assignment: a,
		Cost:       m.BaseCost(a),
		Feasible:   m.IsFeasible(a),
		Source:     "solver",
	}
	c.log.Debug().
		Str("model", m.Name).
		Float64("cost", ref.Cost).
		Bool("feasible", ref.Feasible).
		Bool("optimal", result.Optimal).
		Msg("Solver sidecar returned reference")
	return ref, nil
}

// post sends a POST request to the sidecar.
func (c *Client) post(ctx context.Context, endpoint string, request interface{}, target interface{}) error {
	url := c.baseURL + endpoint

	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.log.Debug().
		Str("endpoint", endpoint).
		Msg("Calling solver sidecar")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var resp serviceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !resp.Success {
		errorMsg := "unknown error"
		if resp.Error != nil {
			errorMsg = *resp.Error
		}
		return fmt.Errorf("solver sidecar failed: %s", errorMsg)
	}

	if err := json.Unmarshal(resp.Data, target); err != nil {
		return fmt.Errorf("failed to parse solver result: %w", err)
	}
	return nil
}

func isInf(v float64) bool {
	return v > 1e300 || v < -1e300
}
