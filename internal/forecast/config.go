package forecast

import (
	"fmt"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Config describes the network architecture. It is persisted alongside the
// parameters in every checkpoint.
type Config struct {
	// InputSize is the raw feature width F, including the two trailing
	// categorical columns and the leading lag features.
	InputSize int `json:"input_size"`

	HiddenSize       int    `json:"hidden_size"`
	NumLayers        int    `json:"num_layers"`
	ShopEmbeddingDim int    `json:"shop_embedding_dim"`
	ItemEmbeddingDim int    `json:"item_embedding_dim"`
	NumShops         int    `json:"num_shops"`
	NumItems         int    `json:"num_items"`
	Distribution     string `json:"distribution"`

	// Seed drives parameter initialization only.
	Seed uint64 `json:"seed"`
}

// DefaultConfig returns the reference architecture for the given feature width
func DefaultConfig(inputSize int) *Config {
	return &Config{
		InputSize:        inputSize,
		HiddenSize:       constants.DefaultHiddenSize,
		NumLayers:        constants.DefaultNumLayers,
		ShopEmbeddingDim: constants.DefaultShopEmbeddingDim,
		ItemEmbeddingDim: constants.DefaultItemEmbeddingDim,
		NumShops:         constants.DefaultNumShops,
		NumItems:         constants.DefaultNumItems,
		Distribution:     constants.DistributionNegativeBinomial,
		Seed:             constants.DefaultSeed,
	}
}

// Validate checks the architecture for consistency
func (c *Config) Validate() error {
	minInput := constants.NumLagFeatures + constants.NumCategoricalColumns
	if c.InputSize < minInput {
		return errors.NewValidationError(errors.CodeShapeMismatch,
			fmt.Sprintf("input size must be at least %d (lag features plus shop and item columns), got %d", minInput, c.InputSize))
	}
	if c.HiddenSize <= 0 {
		return errors.NewValidationError(errors.CodeInvalidInput, "hidden size must be positive")
	}
	if c.NumLayers <= 0 {
		return errors.NewValidationError(errors.CodeInvalidInput, "number of layers must be positive")
	}
	if c.ShopEmbeddingDim <= 0 || c.ItemEmbeddingDim <= 0 {
		return errors.NewValidationError(errors.CodeInvalidInput, "embedding dimensions must be positive")
	}
	if c.NumShops <= 0 || c.NumItems <= 0 {
		return errors.NewValidationError(errors.CodeInvalidInput, "embedding table sizes must be positive")
	}
	if _, err := NewDistribution(c.Distribution); err != nil {
		return err
	}
	return nil
}

// cellInputSize is the continuous width plus both embeddings
func (c *Config) cellInputSize() int {
	return c.InputSize - constants.NumCategoricalColumns + c.ShopEmbeddingDim + c.ItemEmbeddingDim
}

// decoderInputSize is the covariate width expected in DecX
func (c *Config) decoderInputSize() int {
	return c.InputSize - constants.NumLagFeatures
}
