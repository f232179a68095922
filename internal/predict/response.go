package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// wireResponse accepts every field spelling seen across service versions.
// All fields are optional at this level; decodeResult enforces the contract.
type wireResponse struct {
	SchemaVersion string `json:"schema_version"`

	FailureLoad      *float64 `json:"failure_load"`
	FailureLoadCamel *float64 `json:"failureLoad"`
	PredictedLoad    *float64 `json:"predicted_load"`
	Load             *float64 `json:"load"`

	Unit string `json:"unit"`

	Confidence *float64 `json:"confidence"`

	WeakestPoint      *string `json:"weakest_point"`
	WeakPoint         *string `json:"weak_point"`
	WeakPointCamel    *string `json:"weakPoint"`
	WeakestPointCamel *string `json:"weakestPoint"`

	Inclination      *float64 `json:"inclination"`
	InclinationAngle *float64 `json:"inclination_angle"`
	InclinationCamel *float64 `json:"inclinationAngle"`

	Declination      *float64 `json:"declination"`
	DeclinationAngle *float64 `json:"declination_angle"`
	DeclinationCamel *float64 `json:"declinationAngle"`
}

// decodeResult parses a prediction response body. A missing or negative
// failure load, or a non-finite number anywhere, is a malformed response.
func decodeResult(body []byte) (*Result, error) {
	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	load := firstFloat(w.FailureLoad, w.FailureLoadCamel, w.PredictedLoad, w.Load)
	if load == nil {
		return nil, fmt.Errorf("%w: missing failure load", ErrMalformedResponse)
	}
	if math.IsNaN(*load) || math.IsInf(*load, 0) || *load < 0 {
		return nil, fmt.Errorf("%w: invalid failure load %v", ErrMalformedResponse, *load)
	}

	unit, err := ParseUnit(w.Unit)
	if err != nil {
		return nil, errors.Join(ErrMalformedResponse, err)
	}

	res := &Result{
		FailureLoad:   *load,
		Unit:          unit,
		Confidence:    w.Confidence,
		WeakestPoint:  firstString(w.WeakestPoint, w.WeakPoint, w.WeakPointCamel, w.WeakestPointCamel),
		Inclination:   firstFloat(w.Inclination, w.InclinationAngle, w.InclinationCamel),
		Declination:   firstFloat(w.Declination, w.DeclinationAngle, w.DeclinationCamel),
		SchemaVersion: w.SchemaVersion,
	}
	return res, nil
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstString(vals ...*string) *string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
