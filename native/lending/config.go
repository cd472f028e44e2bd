package lending

import (
	"fmt"
	"math/big"
	"strings"
)

// ReserveSettings is the TOML shape an operator supplies per reserve.
type ReserveSettings struct {
	Asset                   string        `toml:"Asset"`
	LTVBps                  uint64        `toml:"LTVBps"`
	LiquidationThresholdBps uint64        `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64        `toml:"LiquidationBonusBps"`
	Model                   ModelSettings `toml:"model"`
}

// ModelSettings carries the kinked-curve constants as decimal ray strings so
// TOML never loses precision on 1e27 magnitudes.
type ModelSettings struct {
	BaseRateRay           string `toml:"BaseRateRay"`
	Slope1Ray             string `toml:"Slope1Ray"`
	Slope2Ray             string `toml:"Slope2Ray"`
	OptimalUtilizationRay string `toml:"OptimalUtilizationRay"`
}

// Build parses the ray strings into a rate model. Empty settings fall back to
// the default model.
func (m ModelSettings) Build() (*KinkedRateModel, error) {
	if strings.TrimSpace(m.BaseRateRay) == "" &&
		strings.TrimSpace(m.Slope1Ray) == "" &&
		strings.TrimSpace(m.Slope2Ray) == "" &&
		strings.TrimSpace(m.OptimalUtilizationRay) == "" {
		return DefaultRateModel(), nil
	}
	base, err := parseRay("BaseRateRay", m.BaseRateRay)
	if err != nil {
		return nil, err
	}
	slope1, err := parseRay("Slope1Ray", m.Slope1Ray)
	if err != nil {
		return nil, err
	}
	slope2, err := parseRay("Slope2Ray", m.Slope2Ray)
	if err != nil {
		return nil, err
	}
	optimal, err := parseRay("OptimalUtilizationRay", m.OptimalUtilizationRay)
	if err != nil {
		return nil, err
	}
	if optimal.Sign() <= 0 || optimal.Cmp(ray) >= 0 {
		return nil, fmt.Errorf("lending config: OptimalUtilizationRay must lie strictly inside (0, 1e27)")
	}
	return NewKinkedRateModel(base, slope1, slope2, optimal), nil
}

// ReserveConfig validates the settings and produces the engine's
// initialization payload.
func (r ReserveSettings) ReserveConfig() (ReserveConfig, error) {
	if strings.TrimSpace(r.Asset) == "" {
		return ReserveConfig{}, fmt.Errorf("lending config: reserve asset must not be empty")
	}
	if r.LTVBps > r.LiquidationThresholdBps || r.LiquidationThresholdBps > 10_000 {
		return ReserveConfig{}, fmt.Errorf("lending config: reserve %s requires LTV <= threshold <= 10000", r.Asset)
	}
	if r.LiquidationBonusBps >= 10_000 {
		return ReserveConfig{}, fmt.Errorf("lending config: reserve %s requires liquidation bonus < 10000", r.Asset)
	}
	model, err := r.Model.Build()
	if err != nil {
		return ReserveConfig{}, err
	}
	return ReserveConfig{
		LTV:                  r.LTVBps,
		LiquidationThreshold: r.LiquidationThresholdBps,
		LiquidationBonus:     r.LiquidationBonusBps,
		Model:                model,
	}, nil
}

func parseRay(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("lending config: %s must be a non-negative decimal integer", field)
	}
	return parsed, nil
}
