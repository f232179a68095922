// Package controller gates prediction requests: it validates the current
// store snapshot, dispatches at most one request at a time and settles the
// outcome back into the store and onto the session bus.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/events"
	"github.com/kartoza/bridge-predict/internal/params"
	"github.com/kartoza/bridge-predict/internal/predict"
	"github.com/kartoza/bridge-predict/internal/store"
)

// State of the request state machine
type State string

const (
	Idle       State = "idle"
	Validating State = "validating"
	Submitting State = "submitting"
	Succeeded  State = "succeeded"
	Failed     State = "failed"
)

var (
	// ErrBusy is returned by Submit while a request is in flight
	ErrBusy = errors.New("a prediction is already in progress")
	// ErrClosed is returned by Submit after Close
	ErrClosed = errors.New("controller closed")
)

// ValidationError lists what keeps a snapshot from being submitted
type ValidationError struct {
	MissingFields []params.FieldID
	MissingImage  bool
}

// MissingLabels returns the display labels of the missing fields
func (e *ValidationError) MissingLabels() []string {
	out := make([]string, len(e.MissingFields))
	for i, id := range e.MissingFields {
		out[i] = params.Label(id)
	}
	return out
}

func (e *ValidationError) Error() string {
	if len(e.MissingFields) > 0 {
		return "Please fill in: " + strings.Join(e.MissingLabels(), ", ")
	}
	return "Please upload a bridge image"
}

// ValidateForm checks that every parameter holds a finite number and that an
// image is attached. Missing parameters are reported before a missing image.
func ValidateForm(snap store.Snapshot) error {
	missing := snap.Params.Missing()
	noImage := !snap.HasImage || snap.Image == nil
	if len(missing) == 0 && !noImage {
		return nil
	}
	return &ValidationError{MissingFields: missing, MissingImage: noImage}
}

// Controller runs the request state machine of one session
type Controller struct {
	store   *store.Store
	service predict.Service
	bus     *events.Bus
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	result  *predict.Result
	lastErr error
	closed  bool

	// base ends every in-flight request when the controller closes
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an idle controller. A timeout of zero lets a request wait for
// the service indefinitely.
func New(st *store.Store, svc predict.Service, bus *events.Bus, timeout time.Duration, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:   st,
		service: svc,
		bus:     bus,
		timeout: timeout,
		logger:  logger.Named("controller"),
		state:   Idle,
		base:    base,
		cancel:  cancel,
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the last successful prediction, which stays visible after
// later validation failures and request errors
func (c *Controller) Result() *predict.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// LastError returns the error of the last failed request, if any
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Submit validates the current snapshot and dispatches a prediction request.
// It returns ErrBusy while a request is in flight and a *ValidationError when
// the snapshot is incomplete; in both cases nothing is sent. On success the
// returned channel is closed once the request has settled.
//
// Cancelling ctx does not abort the request; only Close does.
func (c *Controller) Submit(ctx context.Context) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state == Submitting {
		c.mu.Unlock()
		c.logger.Debug("submit ignored while a request is in flight")
		return nil, ErrBusy
	}
	c.setStateLocked(Validating)

	snap := c.store.Snapshot()
	if err := ValidateForm(snap); err != nil {
		c.setStateLocked(Idle)
		c.mu.Unlock()
		c.logger.Info("prediction request rejected", zap.Error(err))
		c.notify(events.LevelError, "Missing information", err.Error())
		return nil, err
	}

	c.setStateLocked(Submitting)
	c.lastErr = nil
	reqCtx, cancel := c.requestContext(ctx)
	c.wg.Add(1)
	c.mu.Unlock()

	req := &predict.Request{Params: snap.Params, Image: snap.Image}
	c.logger.Info("prediction request dispatched",
		zap.String("backend", c.service.Name()),
		zap.String("image", snap.Image.Filename))
	c.notify(events.LevelInfo, "Analysis started!", "Our model is analyzing your spaghetti bridge structure.")

	done := make(chan struct{})
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel()

		res, err := c.service.Predict(reqCtx, req)
		c.settle(res, err)
	}()
	return done, nil
}

// requestContext keeps the values of ctx but ties cancellation to the
// controller lifetime and the configured timeout
func (c *Controller) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.base, cancel)

	if c.timeout > 0 {
		var cancelTimeout context.CancelFunc
		reqCtx, cancelTimeout = context.WithTimeout(reqCtx, c.timeout)
		return reqCtx, func() {
			cancelTimeout()
			stop()
			cancel()
		}
	}
	return reqCtx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) settle(res *predict.Result, err error) {
	if err == nil && res == nil {
		err = &predict.TransportError{Op: "decode", Err: errors.New("empty result")}
	}

	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.setStateLocked(Failed)
		c.mu.Unlock()

		c.logger.Warn("prediction failed", zap.Error(err))
		c.notify(events.LevelError, "Prediction failed", "Something went wrong. Please try again.")
		return
	}

	if res.HasAngles() && c.store.ApplyDetectedAngles(res.Inclination, res.Declination) {
		c.logger.Info("applied detected angles",
			zap.Any("inclination", res.Inclination),
			zap.Any("declination", res.Declination))
		c.notify(events.LevelInfo, "Angles auto-detected", angleDescription(res))
	}

	c.mu.Lock()
	c.result = res
	c.setStateLocked(Succeeded)
	c.mu.Unlock()

	c.logger.Info("prediction succeeded",
		zap.Float64("failure_load", res.FailureLoad),
		zap.String("unit", string(res.Unit)))
	if c.bus != nil {
		c.bus.Publish(events.Event{Type: events.TypeResult, Result: res})
	}
	c.notify(events.LevelSuccess, "Analysis complete!", "Predicted failure load capacity: "+res.Format(""))
}

func angleDescription(res *predict.Result) string {
	var parts []string
	if res.Inclination != nil {
		parts = append(parts, fmt.Sprintf("inclination %g°", *res.Inclination))
	}
	if res.Declination != nil {
		parts = append(parts, fmt.Sprintf("declination %g°", *res.Declination))
	}
	return "Detected " + strings.Join(parts, " and ") + " from your image."
}

// Close aborts any in-flight request and waits for it to settle
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// setStateLocked must be called with c.mu held
func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state transition", zap.String("from", string(c.state)), zap.String("to", string(s)))
	c.state = s
	if c.bus != nil {
		c.bus.Publish(events.Event{Type: events.TypeState, State: string(s)})
	}
}

func (c *Controller) notify(level events.Level, title, description string) {
	if c.bus != nil {
		c.bus.Notify(level, title, description)
	}
}
