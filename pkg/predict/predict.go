// Package predict extrapolates a balloon's next position from its recent
// track using a pre-trained linear regression model.
package predict

import (
	"errors"
	"fmt"

	"stratoscope/pkg/geo"
	"stratoscope/pkg/model"
)

// Feature layout: one 7-element group per consecutive sample pair, 20 pairs,
// in chronological pair order. Trained models bake this in; changing it
// invalidates every existing coefficient set.
const (
	WindowSize      = 21
	pairCount       = WindowSize - 1
	featuresPerPair = 7
	FeatureCount    = pairCount * featuresPerPair
	outputDims      = 3
)

// ErrShapeMismatch reports a model whose dimensions disagree with the fixed
// feature layout. Wrapped errors carry the observed dimensions.
var ErrShapeMismatch = errors.New("model shape mismatch")

// Model is a pre-trained affine map from the feature vector to a
// (north-km, east-km, altitude) delta. Loaded once at startup and read-only
// thereafter; one instance may be shared across any number of concurrent
// Next calls.
type Model struct {
	Coefficients [][]float64 `json:"coef"`
	Intercepts   []float64   `json:"intercept"`
}

// Validate checks the coefficient matrix and intercept vector against the
// fixed feature layout. Returns an error wrapping ErrShapeMismatch on any
// disagreement; dimensions are never padded or truncated to fit.
func (m *Model) Validate() error {
	if len(m.Coefficients) != outputDims {
		return fmt.Errorf("%w: %d coefficient rows, want %d", ErrShapeMismatch, len(m.Coefficients), outputDims)
	}
	for i, row := range m.Coefficients {
		if len(row) != FeatureCount {
			return fmt.Errorf("%w: coefficient row %d has %d columns, want %d", ErrShapeMismatch, i, len(row), FeatureCount)
		}
	}
	if len(m.Intercepts) != outputDims {
		return fmt.Errorf("%w: %d intercepts, want %d", ErrShapeMismatch, len(m.Intercepts), outputDims)
	}
	return nil
}

// Next predicts the next position from the 21 most recent samples.
//
// history is ordered most recent first (index 0 = latest). With fewer than
// 21 samples, or no model, it returns (nil, nil): no prediction yet, a
// legitimate outcome rather than an error. A model whose shape disagrees
// with the fixed feature layout fails with ErrShapeMismatch.
//
// The returned sample carries position and altitude only. Outputs are not
// range-checked; a model applied outside its training domain can produce
// coordinates beyond [-90, 90]/[-180, 180] and callers clamp for display.
//
// Pure and synchronous: no retries, no side effects, safe to call
// concurrently.
func Next(history model.History, m *Model) (*model.Sample, error) {
	if m == nil || len(history) < WindowSize {
		return nil, nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	// Reorder the newest 21 samples chronologically: w[0] oldest, w[20]
	// the anchor.
	var w [WindowSize]model.Sample
	for i := range w {
		w[i] = history[WindowSize-1-i]
	}

	x := features(w)

	var delta [outputDims]float64
	for i := range delta {
		sum := m.Intercepts[i]
		row := m.Coefficients[i]
		for j, v := range x {
			sum += row[j] * v
		}
		delta[i] = sum
	}

	anchor := w[WindowSize-1]
	lat, lon := geo.OffsetKm(anchor.Lat, anchor.Lon, delta[0], delta[1])

	return &model.Sample{
		Lat: lat,
		Lon: lon,
		Alt: anchor.Alt + delta[2],
	}, nil
}

// features flattens 20 consecutive pairs into the regression input vector.
// Per pair: signed north/east displacement in km at the pair's mean
// latitude, altitude delta, then the earlier sample's own motion and wind
// readings. The group describes conditions during the transition, sampled
// at its start.
func features(w [WindowSize]model.Sample) []float64 {
	x := make([]float64, 0, FeatureCount)
	for j := 0; j < pairCount; j++ {
		a, b := w[j], w[j+1]
		dLatKm, dLonKm := geo.DeltaKm(a.Lat, a.Lon, b.Lat, b.Lon)
		x = append(x,
			dLatKm,
			dLonKm,
			b.Alt-a.Alt,
			a.Speed,
			a.Heading,
			a.WindSpeed,
			a.WindDir,
		)
	}
	return x
}
