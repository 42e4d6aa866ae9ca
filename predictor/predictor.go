/*
Package predictor is the boundary to the flood-risk model.

PURPOSE:
  The model itself lives outside this service. This package defines the
  contract (weather readings in, reasoning.Prediction out), an HTTP client
  for a remote model, a deterministic threshold-based fallback, and a
  wrapper that bounds the remote call with a timeout and falls back on any
  failure.

USAGE:
  p := predictor.WithFallback(
      predictor.NewHTTP(cfg.PredictorURL, nil),
      predictor.RuleBased{},
      5*time.Second,
      predictor.WithFallbackLogger(log),
  )
  prediction, err := p.Predict(ctx, readings)

SEE ALSO:
  - reasoning/prediction.go: Output contract
  - api/handlers.go: GenerateSuggestions accepts readings or a prediction
*/
package predictor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/relief-engine/reasoning"
)

// Readings are the weather observations a prediction is made from.
type Readings struct {
	ProvinceID  string  `json:"province_id"`
	Rainfall24h float64 `json:"rainfall_24h_mm"`
	Rainfall48h float64 `json:"rainfall_48h_mm"`
	Temperature float64 `json:"temperature_c"`
	Humidity    float64 `json:"humidity_pct"`
}

// Validate rejects physically impossible readings.
func (r Readings) Validate() error {
	var errs []error
	if r.Rainfall24h < 0 || r.Rainfall48h < 0 {
		errs = append(errs, errors.New("rainfall cannot be negative"))
	}
	if r.Humidity < 0 || r.Humidity > 100 {
		errs = append(errs, fmt.Errorf("humidity %v outside [0,100]", r.Humidity))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", reasoning.ErrInvalidPrediction, err)
	}
	return nil
}

// Predictor turns readings into a flood-risk prediction.
type Predictor interface {
	Predict(ctx context.Context, r Readings) (reasoning.Prediction, error)
}

// Func adapts a function to Predictor.
type Func func(ctx context.Context, r Readings) (reasoning.Prediction, error)

func (f Func) Predict(ctx context.Context, r Readings) (reasoning.Prediction, error) {
	return f(ctx, r)
}

// =============================================================================
// FALLBACK WRAPPER
// =============================================================================

// FallbackObserver is told every time the fallback was used.
type FallbackObserver interface {
	ObservePredictorFallback()
}

type fallback struct {
	primary  Predictor
	backup   Predictor
	timeout  time.Duration
	log      *zap.Logger
	observer FallbackObserver
}

type FallbackOption func(*fallback)

func WithFallbackLogger(log *zap.Logger) FallbackOption {
	return func(f *fallback) { f.log = log }
}

func WithFallbackObserver(o FallbackObserver) FallbackOption {
	return func(f *fallback) { f.observer = o }
}

// WithFallback calls primary with a deadline of timeout and uses backup when
// primary fails, times out or returns an invalid prediction. A nil primary
// always uses backup.
func WithFallback(primary, backup Predictor, timeout time.Duration, opts ...FallbackOption) Predictor {
	f := &fallback{primary: primary, backup: backup, timeout: timeout, log: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	f.log = f.log.Named("predictor")
	return f
}

func (f *fallback) Predict(ctx context.Context, r Readings) (reasoning.Prediction, error) {
	if err := r.Validate(); err != nil {
		return reasoning.Prediction{}, err
	}

	if f.primary != nil {
		p, err := f.callPrimary(ctx, r)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return reasoning.Prediction{}, ctx.Err()
		}
		f.log.Warn("primary predictor failed, using fallback",
			zap.String("province_id", r.ProvinceID),
			zap.Duration("timeout", f.timeout),
			zap.Error(err),
		)
		if f.observer != nil {
			f.observer.ObservePredictorFallback()
		}
	}
	return f.backup.Predict(ctx, r)
}

func (f *fallback) callPrimary(ctx context.Context, r Readings) (reasoning.Prediction, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	p, err := f.primary.Predict(ctx, r)
	if err != nil {
		return reasoning.Prediction{}, err
	}
	return p.Normalized()
}
