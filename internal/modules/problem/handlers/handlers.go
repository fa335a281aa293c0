// Package handlers provides HTTP handlers for problem registry operations.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/events"
	"github.com/rougem/FinQuantOpt/internal/modules/generator"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// Handler handles problem registry HTTP requests
type Handler struct {
	repo *problem.Repository
	bus  *events.Bus
	log  zerolog.Logger
}

// NewHandler creates a new problem registry handler
func NewHandler(repo *problem.Repository, bus *events.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		bus:  bus,
		log:  log.With().Str("handler", "problems").Logger(),
	}
}

// HandleUploadLP handles POST /api/problems/upload
// The body is raw LP text; the problem name comes from the "name" query
// parameter or the LP model name.
func (h *Handler) HandleUploadLP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = fmt.Sprintf("uploaded_%d", time.Now().Unix())
	}

	model, err := problem.ParseLP(name, strings.NewReader(string(body)))
	if err != nil {
		var malformed *problem.MalformedModelError
		if errors.As(err, &malformed) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.Save(model, "lp_upload", string(body)); err != nil {
		h.log.Error().Err(err).Str("problem", name).Msg("Failed to save uploaded problem")
		h.writeError(w, http.StatusInternalServerError, "Failed to save problem")
		return
	}

	events.EmitTyped(h.bus, "problems", &events.ProblemLoadedData{
		Name:      model.Name,
		Variables: model.NumVariables(),
		Source:    "lp_upload",
	})

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{
			"name":        model.Name,
			"variables":   model.NumVariables(),
			"constraints": len(model.Constraints),
		},
	})
}

// GenerateRequest is the body of POST /api/problems/generate.
type GenerateRequest struct {
	Type         string  `json:"type"` // mean_variance | esg_constrained
	Assets       int     `json:"assets"`
	Regime       string  `json:"regime"`
	RiskAversion float64 `json:"risk_aversion"`
	Seed         int64   `json:"seed"`
	MinHoldings  int     `json:"min_holdings"`
	MaxHoldings  int     `json:"max_holdings"`
	MaxPerSector int     `json:"max_per_sector"`
	MinESGTotal  float64 `json:"min_esg_total"`
	MaxCarbon    float64 `json:"max_carbon_total"`
}

// HandleGenerate handles POST /api/problems/generate
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Assets <= 0 {
		req.Assets = 10
	}
	if req.Seed == 0 {
		req.Seed = time.Now().UnixNano()
	}

	g := generator.New(req.Seed)
	var (
		model  *problem.Model
		market *generator.Market
		err    error
	)
	switch req.Type {
	case "", "mean_variance":
		cfg := generator.DefaultMeanVarianceConfig(req.Assets)
		if req.Regime != "" {
			cfg.Regime = generator.Regime(req.Regime)
		}
		if req.RiskAversion > 0 {
			cfg.RiskAversion = req.RiskAversion
		}
		if req.MaxHoldings > 0 {
			cfg.MinHoldings, cfg.MaxHoldings = req.MinHoldings, req.MaxHoldings
		}
		if req.MaxPerSector > 0 {
			cfg.MaxPerSector = req.MaxPerSector
		}
		model, market, err = g.MeanVariance(cfg)
	case "esg_constrained":
		cfg := generator.ESGConfig{
			Assets:         req.Assets,
			MinESGTotal:    req.MinESGTotal,
			MaxCarbonTotal: req.MaxCarbon,
			MinHoldings:    req.MinHoldings,
			MaxHoldings:    req.MaxHoldings,
		}
		if cfg.MaxHoldings == 0 {
			d := generator.DefaultMeanVarianceConfig(req.Assets)
			cfg.MinHoldings, cfg.MaxHoldings = d.MinHoldings, d.MaxHoldings
		}
		model, market, err = g.ESGConstrained(cfg)
	default:
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown problem type %q", req.Type))
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.Save(model, "generated", ""); err != nil {
		h.log.Error().Err(err).Str("problem", model.Name).Msg("Failed to save generated problem")
		h.writeError(w, http.StatusInternalServerError, "Failed to save problem")
		return
	}

	events.EmitTyped(h.bus, "problems", &events.ProblemLoadedData{
		Name:      model.Name,
		Variables: model.NumVariables(),
		Source:    "generated",
	})

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{
			"name":        model.Name,
			"variables":   model.NumVariables(),
			"constraints": len(model.Constraints),
			"seed":        req.Seed,
			"regime":      market.Regime,
			"sectors":     market.Sectors,
		},
	})
}

// HandleList handles GET /api/problems
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	problems, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list problems")
		h.writeError(w, http.StatusInternalServerError, "Failed to list problems")
		return
	}

	summaries := make([]map[string]interface{}, 0, len(problems))
	for _, p := range problems {
		summaries = append(summaries, map[string]interface{}{
			"name":        p.Name,
			"source":      p.Source,
			"variables":   p.Variables,
			"constraints": p.Constraints,
			"created_at":  p.CreatedAt.Format(time.RFC3339),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": summaries})
}

// HandleGet handles GET /api/problems/{name}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, name string) {
	p, err := h.repo.Get(name)
	if err != nil {
		h.log.Error().Err(err).Str("problem", name).Msg("Failed to get problem")
		h.writeError(w, http.StatusInternalServerError, "Failed to get problem")
		return
	}
	if p == nil {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("Problem %q not found", name))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": p})
}

// HandleDelete handles DELETE /api/problems/{name}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request, name string) {
	removed, err := h.repo.Delete(name)
	if err != nil {
		h.log.Error().Err(err).Str("problem", name).Msg("Failed to delete problem")
		h.writeError(w, http.StatusInternalServerError, "Failed to delete problem")
		return
	}
	if !removed {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("Problem %q not found", name))
		return
	}
	if h.bus != nil {
		h.bus.Emit(events.ProblemRemoved, "problems", map[string]interface{}{"name": name})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]interface{}{"error": msg})
}
