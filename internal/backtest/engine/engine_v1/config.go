package engine

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"

	"github.com/quantarc/portsim/internal/portfolio"
	"github.com/quantarc/portsim/pkg/errors"
)

// SimulationConfig is the full engine configuration: the portfolio rules plus
// run-level knobs.
type SimulationConfig struct {
	Portfolio portfolio.Config `yaml:"portfolio" json:"portfolio" jsonschema:"title=Portfolio,description=Capital and risk configuration"`

	// StartIndex and FinishIndex bound the bar loop. Absent means the whole
	// shared series range.
	StartIndex  optional.Option[int] `yaml:"start_index" json:"start_index" jsonschema:"title=Start Index,description=First bar index to simulate"`
	FinishIndex optional.Option[int] `yaml:"finish_index" json:"finish_index" jsonschema:"title=Finish Index,description=Bar index to stop before"`

	RiskFreeRate float64 `yaml:"risk_free_rate" json:"risk_free_rate" jsonschema:"title=Risk Free Rate,description=Per-trade risk-free return used by Sharpe and Sortino"`
}

// UnmarshalYAML maps absent start/finish indexes onto None.
func (c *SimulationConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		Portfolio    portfolio.Config `yaml:"portfolio"`
		StartIndex   *int             `yaml:"start_index"`
		FinishIndex  *int             `yaml:"finish_index"`
		RiskFreeRate float64          `yaml:"risk_free_rate"`
	}

	var parsed plain
	if err := unmarshal(&parsed); err != nil {
		return err
	}

	c.Portfolio = parsed.Portfolio
	c.RiskFreeRate = parsed.RiskFreeRate
	c.StartIndex = optional.None[int]()
	c.FinishIndex = optional.None[int]()

	if parsed.StartIndex != nil {
		c.StartIndex = optional.Some(*parsed.StartIndex)
	}

	if parsed.FinishIndex != nil {
		c.FinishIndex = optional.Some(*parsed.FinishIndex)
	}

	return nil
}

// Validate checks the run-level fields and delegates the rest to the
// portfolio config.
func (c *SimulationConfig) Validate() error {
	if err := c.Portfolio.Validate(); err != nil {
		return err
	}

	if c.StartIndex.IsSome() && c.StartIndex.Unwrap() < 0 {
		return errors.New(errors.ErrCodeBacktestConfigError, "start_index must not be negative")
	}

	if c.StartIndex.IsSome() && c.FinishIndex.IsSome() && c.FinishIndex.Unwrap() <= c.StartIndex.Unwrap() {
		return errors.New(errors.ErrCodeBacktestConfigError, "finish_index must be after start_index")
	}

	return nil
}

// GenerateSchema builds a JSON schema for the engine configuration.
func (c *SimulationConfig) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if strings.Contains(t.String(), "optional.Option[int]") {
				return &jsonschema.Schema{Type: "integer"}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "simulation-config"
	schema.Description = "Configuration schema for the simulation engine"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders the schema as indented JSON.
func (c *SimulationConfig) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to generate schema", err)
	}

	return string(schemaBytes), nil
}

// EmptyConfig returns a SimulationConfig with open bounds and no portfolio.
func EmptyConfig() SimulationConfig {
	return SimulationConfig{
		StartIndex:  optional.None[int](),
		FinishIndex: optional.None[int](),
	}
}
