package predict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kartoza/bridge-predict/internal/attachment"
	"github.com/kartoza/bridge-predict/internal/params"
)

// Service computes a failure-load prediction for one request.
//
// Implementations must not retain the request after Predict returns and
// must report every failure as a *TransportError.
type Service interface {
	// Predict sends the request and waits for the outcome.
	Predict(ctx context.Context, req *Request) (*Result, error)
	// Name identifies the backend in logs and API responses.
	Name() string
}

// Request is the payload of a single prediction: every parameter plus the
// bridge image, captured at submission time.
type Request struct {
	Params params.Set
	Image  *attachment.Attachment
}

// Unit of a failure-load value
type Unit string

const (
	Grams     Unit = "g"
	Kilograms Unit = "kg"
	Newtons   Unit = "N"
)

// standardGravity converts between mass and force units (m/s²)
var standardGravity = decimal.RequireFromString("9.80665")

// ParseUnit accepts the spellings used by the different service versions.
// An empty string means grams.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "g", "gram", "grams":
		return Grams, nil
	case "kg", "kilogram", "kilograms":
		return Kilograms, nil
	case "n", "newton", "newtons":
		return Newtons, nil
	}
	return "", fmt.Errorf("unknown load unit %q", s)
}

// Result is a decoded prediction
type Result struct {
	FailureLoad   float64   `json:"failureLoad"`
	Unit          Unit      `json:"unit"`
	Confidence    *float64  `json:"confidence,omitempty"`
	WeakestPoint  *string   `json:"weakestPoint,omitempty"`
	Inclination   *float64  `json:"inclination,omitempty"`
	Declination   *float64  `json:"declination,omitempty"`
	SchemaVersion string    `json:"schemaVersion,omitempty"`
	Backend       string    `json:"backend"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// HasAngles reports whether the service detected either angle
func (r *Result) HasAngles() bool {
	return r.Inclination != nil || r.Declination != nil
}

// In converts the failure load to another unit
func (r *Result) In(unit Unit) decimal.Decimal {
	grams := toGrams(decimal.NewFromFloat(r.FailureLoad), r.Unit)
	switch unit {
	case Kilograms:
		return grams.Div(decimal.NewFromInt(1000))
	case Newtons:
		return grams.Div(decimal.NewFromInt(1000)).Mul(standardGravity)
	default:
		return grams
	}
}

func toGrams(v decimal.Decimal, from Unit) decimal.Decimal {
	switch from {
	case Kilograms:
		return v.Mul(decimal.NewFromInt(1000))
	case Newtons:
		return v.Div(standardGravity).Mul(decimal.NewFromInt(1000))
	default:
		return v
	}
}

// Format renders the failure load for display, e.g. "412.5 g"
func (r *Result) Format(unit Unit) string {
	if unit == "" {
		unit = r.Unit
	}
	places := int32(1)
	if unit == Kilograms {
		places = 3
	}
	return r.In(unit).StringFixed(places) + " " + string(unit)
}

// TransportError describes a failed prediction call: transport failure,
// non-2xx status, or an unusable response body.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("prediction %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("prediction %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrMalformedResponse is wrapped by TransportError when the body cannot be
// decoded into a Result
var ErrMalformedResponse = errors.New("malformed prediction response")

// validateRequest rejects requests that could never produce a prediction
func validateRequest(req *Request) error {
	if req == nil {
		return &TransportError{Op: "build", Err: errors.New("nil request")}
	}
	if req.Image == nil || len(req.Image.Data) == 0 {
		return &TransportError{Op: "build", Err: errors.New("request has no image")}
	}
	return nil
}
