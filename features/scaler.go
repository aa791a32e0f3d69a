package features

// Feature Scaling
//
// Raw features span wildly different magnitudes (plasma temperatures in the
// thousands, stability indices near 1). Distance-based models need every
// dimension to contribute, so the training pipeline standardizes each
// feature to mean 0 and standard deviation 1, and inference applies the
// same fitted parameters.

import (
	"errors"
	"math"
)

// Scaler standardizes features using z-score normalization fitted on a
// training matrix.
type Scaler struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// FitScaler computes scaling parameters from a matrix of raw feature rows.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows provided")
	}
	featureCount := len(rows[0])
	if featureCount == 0 {
		return nil, errors.New("rows have no features")
	}

	mean := make([]float64, featureCount)
	for _, row := range rows {
		if len(row) != featureCount {
			return nil, errors.New("inconsistent feature dimensions")
		}
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(rows))
	}

	stddev := make([]float64, featureCount)
	for _, row := range rows {
		for i, v := range row {
			diff := v - mean[i]
			stddev[i] += diff * diff
		}
	}
	for i := range stddev {
		stddev[i] = math.Sqrt(stddev[i] / float64(len(rows)))
		// Constant features would divide by zero otherwise.
		if stddev[i] < 1e-10 {
			stddev[i] = 1
		}
	}

	return &Scaler{Mean: mean, Stddev: stddev}, nil
}

// Transform standardizes one feature row.
func (s *Scaler) Transform(row []float64) ([]float64, error) {
	if len(row) != len(s.Mean) {
		return nil, &SchemaMismatchError{
			Expected: len(s.Mean),
			Got:      len(row),
			Detail:   "scaler dimensions",
		}
	}
	scaled := make([]float64, len(row))
	for i, v := range row {
		scaled[i] = (v - s.Mean[i]) / s.Stddev[i]
	}
	return scaled, nil
}

// TransformMatrix standardizes every row of a matrix.
func (s *Scaler) TransformMatrix(rows [][]float64) ([][]float64, error) {
	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		out, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		scaled[i] = out
	}
	return scaled, nil
}
