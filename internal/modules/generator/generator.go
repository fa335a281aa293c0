// Package generator creates synthetic portfolio selection models for testing
// and benchmarking the hybrid engine. Market structure (regime-dependent
// returns, sector clustering, correlated covariance) follows stylized
// empirical patterns so generated instances behave like real allocation
// problems rather than random QUBOs.
package generator

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// Regime selects the market conditions the returns are drawn from.
type Regime string

const (
	RegimeNormal Regime = "normal"
	RegimeBull   Regime = "bull"
	RegimeBear   Regime = "bear"
	RegimeCrisis Regime = "crisis"
)

// regimeParams are annualized return mean/stddev and the volatility range.
var regimeParams = map[Regime]struct {
	retMean, retStd float64
	volLow, volHigh float64
}{
	RegimeBull:   {0.12, 0.05, 0.15, 0.25},
	RegimeBear:   {-0.05, 0.08, 0.25, 0.40},
	RegimeCrisis: {-0.20, 0.15, 0.40, 0.80},
	RegimeNormal: {0.08, 0.06, 0.18, 0.30},
}

// sectorWeights approximate broad-market capitalization shares.
var sectorWeights = []struct {
	name   string
	weight float64
}{
	{"Technology", 0.25},
	{"Healthcare", 0.15},
	{"Financials", 0.12},
	{"Consumer", 0.12},
	{"Industrials", 0.10},
	{"Energy", 0.08},
	{"Materials", 0.06},
	{"Utilities", 0.05},
	{"RealEstate", 0.04},
	{"Telecom", 0.03},
}

// Market is the generated universe an instance is built from.
type Market struct {
	Regime          Regime      `json:"regime"`
	ExpectedReturns []float64   `json:"expected_returns"`
	Volatilities    []float64   `json:"volatilities"`
	Sectors         []string    `json:"sectors"`
	Covariance      [][]float64 `json:"covariance"`
}

// Generator produces reproducible markets and models from a seed.
type Generator struct {
	rng *rand.Rand
}

func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// GenerateMarket draws returns, volatilities, sector assignments and a
// positive semi-definite covariance matrix for n assets.
func (g *Generator) GenerateMarket(n int, regime Regime) (*Market, error) {
	if n <= 0 {
		return nil, fmt.Errorf("market needs at least one asset, got %d", n)
	}
	p, ok := regimeParams[regime]
	if !ok {
		return nil, fmt.Errorf("unknown market regime %q", regime)
	}

	m := &Market{
		Regime:          regime,
		ExpectedReturns: make([]float64, n),
		Volatilities:    make([]float64, n),
		Sectors:         make([]string, n),
	}
	for i := 0; i < n; i++ {
		m.ExpectedReturns[i] = p.retMean + p.retStd*g.rng.NormFloat64()
		m.Volatilities[i] = p.volLow + (p.volHigh-p.volLow)*g.rng.Float64()
		m.Sectors[i] = g.pickSector()
	}
	m.Covariance = g.covariance(m.Volatilities, m.Sectors)
	return m, nil
}

func (g *Generator) pickSector() string {
	u := g.rng.Float64()
	acc := 0.0
	for _, s := range sectorWeights {
		acc += s.weight
		if u < acc {
			return s.name
		}
	}
	return sectorWeights[len(sectorWeights)-1].name
}

// covariance builds a sector-clustered correlation matrix (same-sector pairs
// draw correlation in [0.3, 0.7], cross-sector in [0, 0.3]), scales it by the
// volatility outer product, and repairs it to positive semi-definite by
// flooring the eigenvalues at 1e-4.
func (g *Generator) covariance(vols []float64, sectors []string) [][]float64 {
	n := len(vols)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, vols[i]*vols[i])
		for j := i + 1; j < n; j++ {
			var corr float64
			if sectors[i] == sectors[j] {
				corr = 0.3 + 0.4*g.rng.Float64()
			} else {
				corr = 0.3 * g.rng.Float64()
			}
			cov.SetSym(i, j, corr*vols[i]*vols[j])
		}
	}

	var eig mat.EigenSym
	if eig.Factorize(cov, true) {
		vals := eig.Values(nil)
		for i, v := range vals {
			if v < 1e-4 {
				vals[i] = 1e-4
			}
		}
		var vecs mat.Dense
		eig.VectorsTo(&vecs)

		var scaled mat.Dense
		scaled.Mul(&vecs, diag(vals))
		var repaired mat.Dense
		repaired.Mul(&scaled, vecs.T())
		out := make([][]float64, n)
		for i := range out {
			out[i] = make([]float64, n)
			for j := range out[i] {
				out[i][j] = repaired.At(i, j)
			}
		}
		return out
	}

	// Factorization failure leaves the raw matrix, which stays usable for
	// objective construction even if slightly indefinite.
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = cov.At(i, j)
		}
	}
	return out
}

func diag(vals []float64) *mat.DiagDense {
	d := mat.NewDiagDense(len(vals), nil)
	for i, v := range vals {
		d.SetDiag(i, v)
	}
	return d
}

// MeanVarianceConfig parameterizes a binary mean-variance selection instance.
type MeanVarianceConfig struct {
	Assets       int
	Regime       Regime
	RiskAversion float64
	// MinHoldings and MaxHoldings bound the number of selected assets.
	MinHoldings int
	MaxHoldings int
	// MaxPerSector caps selections within one sector. Zero disables the cap.
	MaxPerSector int
}

func DefaultMeanVarianceConfig(assets int) MeanVarianceConfig {
	holdings := assets / 3
	if holdings < 1 {
		holdings = 1
	}
	return MeanVarianceConfig{
		Assets:       assets,
		Regime:       RegimeNormal,
		RiskAversion: 1.0,
		MinHoldings:  holdings,
		MaxHoldings:  holdings + 1,
		MaxPerSector: holdings/2 + 1,
	}
}

// MeanVariance builds a binary selection model:
//
//	minimize  lambda * x' Sigma x - mu' x
//	s.t.      min_holdings <= sum(x) <= max_holdings
//	          sum over each sector <= max_per_sector
//
// where x_i selects asset i into an equal-weight book.
func (g *Generator) MeanVariance(cfg MeanVarianceConfig) (*problem.Model, *Market, error) {
	if cfg.RiskAversion <= 0 {
		cfg.RiskAversion = 1.0
	}
	if cfg.MinHoldings > cfg.MaxHoldings {
		return nil, nil, fmt.Errorf("min holdings %d exceeds max holdings %d", cfg.MinHoldings, cfg.MaxHoldings)
	}
	market, err := g.GenerateMarket(cfg.Assets, cfg.Regime)
	if err != nil {
		return nil, nil, err
	}

	name := fmt.Sprintf("mean_variance_%dassets_%s", cfg.Assets, cfg.Regime)
	b := problem.NewBuilder(name)
	budget := map[string]float64{}
	for i := 0; i < cfg.Assets; i++ {
		v := fmt.Sprintf("w_%d", i)
		b.AddLinearTerm(v, cfg.RiskAversion*market.Covariance[i][i]-market.ExpectedReturns[i])
		budget[v] = 1
		for j := i + 1; j < cfg.Assets; j++ {
			// Symmetric off-diagonal pair contributes twice.
			b.AddQuadraticTerm(v, fmt.Sprintf("w_%d", j), 2*cfg.RiskAversion*market.Covariance[i][j])
		}
	}
	b.AddConstraint("budget", budget, float64(cfg.MinHoldings), float64(cfg.MaxHoldings))

	if cfg.MaxPerSector > 0 {
		bySector := map[string]map[string]float64{}
		for i, sector := range market.Sectors {
			if bySector[sector] == nil {
				bySector[sector] = map[string]float64{}
			}
			bySector[sector][fmt.Sprintf("w_%d", i)] = 1
		}
		for sector, terms := range bySector {
			if len(terms) > 1 {
				b.AddConstraint("sector_"+sector, terms, math.Inf(-1), float64(cfg.MaxPerSector))
			}
		}
	}

	m, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return m, market, nil
}

// ESGConfig parameterizes an ESG-constrained minimum-risk instance.
type ESGConfig struct {
	Assets int
	// MinESGTotal is the minimum summed ESG score of the selected book.
	MinESGTotal float64
	// MaxCarbonTotal caps the summed carbon intensity of the book.
	MaxCarbonTotal float64
	MinHoldings    int
	MaxHoldings    int
}

// ESGScores draws per-asset ESG scores (3-10) and sector-dependent carbon
// intensities matching the generated sector structure.
func (g *Generator) ESGScores(market *Market) (esg, carbon []float64) {
	n := len(market.Sectors)
	esg = make([]float64, n)
	carbon = make([]float64, n)
	for i, sector := range market.Sectors {
		esg[i] = 3 + 7*g.rng.Float64()
		switch sector {
		case "Energy", "Materials", "Industrials":
			carbon[i] = 50 + 150*g.rng.Float64()
		case "Technology", "Healthcare", "Financials":
			carbon[i] = 5 + 25*g.rng.Float64()
		default:
			carbon[i] = 20 + 60*g.rng.Float64()
		}
	}
	return esg, carbon
}

// ESGConstrained builds a minimum-variance selection model with floor/cap
// constraints on book-level ESG score and carbon intensity.
func (g *Generator) ESGConstrained(cfg ESGConfig) (*problem.Model, *Market, error) {
	if cfg.MinHoldings > cfg.MaxHoldings {
		return nil, nil, fmt.Errorf("min holdings %d exceeds max holdings %d", cfg.MinHoldings, cfg.MaxHoldings)
	}
	market, err := g.GenerateMarket(cfg.Assets, RegimeNormal)
	if err != nil {
		return nil, nil, err
	}
	esg, carbon := g.ESGScores(market)

	b := problem.NewBuilder(fmt.Sprintf("esg_constrained_%dassets", cfg.Assets))
	budget := map[string]float64{}
	esgTerms := map[string]float64{}
	carbonTerms := map[string]float64{}
	for i := 0; i < cfg.Assets; i++ {
		v := fmt.Sprintf("w_%d", i)
		b.AddLinearTerm(v, market.Covariance[i][i])
		budget[v] = 1
		esgTerms[v] = esg[i]
		carbonTerms[v] = carbon[i]
		for j := i + 1; j < cfg.Assets; j++ {
			b.AddQuadraticTerm(v, fmt.Sprintf("w_%d", j), 2*market.Covariance[i][j])
		}
	}
	b.AddConstraint("budget", budget, float64(cfg.MinHoldings), float64(cfg.MaxHoldings))
	if cfg.MinESGTotal > 0 {
		b.AddConstraint("min_esg", esgTerms, cfg.MinESGTotal, math.Inf(1))
	}
	if cfg.MaxCarbonTotal > 0 {
		b.AddConstraint("max_carbon", carbonTerms, math.Inf(-1), cfg.MaxCarbonTotal)
	}

	m, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return m, market, nil
}
