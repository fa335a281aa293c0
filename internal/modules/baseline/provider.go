package baseline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// Provider resolves a reference for a model, preferring the exact sidecar and
// degrading to the local relaxation when the sidecar is absent or failing.
type Provider struct {
	client *Client
	relax  RelaxConfig
	log    zerolog.Logger
}

// NewProvider accepts a nil client, in which case only the relaxation path is
// used.
func NewProvider(client *Client, relax RelaxConfig, log zerolog.Logger) *Provider {
	return &Provider{
		client: client,
		relax:  relax,
		log:    log.With().Str("component", "baseline").Logger(),
	}
}

func (p *Provider) Reference(ctx context.Context, m *problem.Model) (*Reference, error) {
	if p.client != nil {
		ref, err := p.client.Solve(ctx, m)
		if err == nil {
			return ref, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn().Err(err).Str("model", m.Name).Msg("sidecar unavailable, falling back to relaxation")
	}
	return Relax(m, p.relax, p.log)
}
