package predictor

import (
	"context"

	"github.com/warp/relief-engine/reasoning"
)

// Thresholds used by RuleBased, in millimetres.
const (
	HighRain24h   = 150.0
	HighRain48h   = 250.0
	MediumRain24h = 80.0
	MediumRain48h = 150.0

	// SaturatedHumidity raises confidence when air is near saturation.
	SaturatedHumidity = 90.0
)

// RuleBased classifies rainfall against fixed thresholds. It never fails on
// valid readings and is the fallback when the model is unavailable.
// Confidence stays modest so downstream rules treat it with care.
type RuleBased struct{}

func (RuleBased) Predict(ctx context.Context, r Readings) (reasoning.Prediction, error) {
	if err := r.Validate(); err != nil {
		return reasoning.Prediction{}, err
	}

	p := reasoning.Prediction{
		Rainfall24h: r.Rainfall24h,
		Rainfall48h: r.Rainfall48h,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
	}

	saturated := r.Humidity >= SaturatedHumidity
	switch {
	case r.Rainfall24h >= HighRain24h || r.Rainfall48h >= HighRain48h:
		p.FloodRisk, p.Confidence = reasoning.RiskHigh, pick(saturated, 0.88, 0.8)
	case r.Rainfall24h >= MediumRain24h || r.Rainfall48h >= MediumRain48h:
		p.FloodRisk, p.Confidence = reasoning.RiskMedium, pick(saturated, 0.78, 0.7)
	default:
		p.FloodRisk, p.Confidence = reasoning.RiskLow, 0.6
	}
	return p, nil
}

func pick(cond bool, yes, no float64) float64 {
	if cond {
		return yes
	}
	return no
}
