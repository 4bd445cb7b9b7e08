package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/pkg/constants"
)

// SyntheticCovariates is the width of the generated covariates: the sine and
// cosine of the weekly phase.
const SyntheticCovariates = 2

// SynthConfig controls synthetic sales generation
type SynthConfig struct {
	NumSeries       int     `json:"num_series" mapstructure:"num_series"`
	Length          int     `json:"length" mapstructure:"length"`   // observed steps per series
	Horizon         int     `json:"horizon" mapstructure:"horizon"` // covariate-only steps past the history
	NumShops        int     `json:"num_shops" mapstructure:"num_shops"`
	NumItems        int     `json:"num_items" mapstructure:"num_items"`
	BaseLevel       float64 `json:"base_level" mapstructure:"base_level"`
	WeeklyAmplitude float64 `json:"weekly_amplitude" mapstructure:"weekly_amplitude"`
	Trend           float64 `json:"trend" mapstructure:"trend"`           // relative growth over the series
	Dispersion      float64 `json:"dispersion" mapstructure:"dispersion"` // negative binomial a
	Seed            uint64  `json:"seed" mapstructure:"seed"`
}

// DefaultSynthConfig returns a small, quick-to-train configuration
func DefaultSynthConfig() *SynthConfig {
	return &SynthConfig{
		NumSeries:       20,
		Length:          200,
		Horizon:         30,
		NumShops:        constants.DefaultNumShops,
		NumItems:        constants.DefaultNumItems,
		BaseLevel:       8,
		WeeklyAmplitude: 0.4,
		Trend:           0.2,
		Dispersion:      0.2,
		Seed:            constants.DefaultSeed,
	}
}

// Generator produces synthetic shop/item sales series
type Generator struct {
	config *SynthConfig
	logger *logrus.Logger
	rng    *rand.Rand
	src    rand.Source
}

// NewGenerator creates a new synthetic generator
func NewGenerator(config *SynthConfig, logger *logrus.Logger) *Generator {
	if config == nil {
		config = DefaultSynthConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	src := rand.NewPCG(config.Seed, config.Seed+1)
	return &Generator{
		config: config,
		logger: logger,
		rng:    rand.New(src),
		src:    src,
	}
}

// Generate draws every series
func (g *Generator) Generate(ctx context.Context) ([]Series, error) {
	if g.config.NumSeries <= 0 || g.config.Length <= 0 || g.config.Horizon < 0 {
		return nil, fmt.Errorf("invalid synthetic config: series=%d length=%d horizon=%d",
			g.config.NumSeries, g.config.Length, g.config.Horizon)
	}
	if g.config.NumShops <= 0 || g.config.NumItems <= 0 || g.config.Dispersion <= 0 {
		return nil, fmt.Errorf("invalid synthetic config: shops, items and dispersion must be positive")
	}

	series := make([]Series, g.config.NumSeries)
	for i := range series {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		s, err := g.generateSeries(i)
		if err != nil {
			return nil, fmt.Errorf("failed to generate series %d: %w", i, err)
		}
		series[i] = s
	}

	g.logger.WithFields(logrus.Fields{
		"num_series": g.config.NumSeries,
		"length":     g.config.Length,
		"horizon":    g.config.Horizon,
	}).Info("Generated synthetic sales")

	return series, nil
}

func (g *Generator) generateSeries(index int) (Series, error) {
	shop := index % g.config.NumShops
	item := g.rng.IntN(g.config.NumItems)
	level := g.config.BaseLevel * (0.5 + g.rng.Float64()) * (1 + 0.1*float64(shop))
	phase := g.rng.Float64() * 2 * math.Pi

	total := g.config.Length + g.config.Horizon
	s := Series{
		Shop:       shop,
		Item:       item,
		Sales:      make([]float64, g.config.Length),
		Covariates: make([][]float64, total),
	}
	for t := 0; t < total; t++ {
		angle := 2*math.Pi*float64(t%7)/7 + phase
		s.Covariates[t] = []float64{math.Sin(angle), math.Cos(angle)}
		if t >= g.config.Length {
			continue
		}
		growth := 1 + g.config.Trend*float64(t)/float64(total)
		mean := level * growth * (1 + g.config.WeeklyAmplitude*math.Sin(angle))
		z, err := forecast.NegativeBinomial{}.Sample(math.Max(mean, 0), g.config.Dispersion, g.src)
		if err != nil {
			return Series{}, err
		}
		s.Sales[t] = z
	}
	return s, nil
}
