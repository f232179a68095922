package controller

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kartoza/bridge-predict/internal/attachment"
	"github.com/kartoza/bridge-predict/internal/events"
	"github.com/kartoza/bridge-predict/internal/params"
	"github.com/kartoza/bridge-predict/internal/predict"
	"github.com/kartoza/bridge-predict/internal/testutil"
)

func nan() float64 { return math.NaN() }

func testAttachment(t *testing.T) *attachment.Attachment {
	t.Helper()
	a, err := attachment.Decode(testutil.PNG(t, 10, 10), "image/png", "bridge.png")
	if err != nil {
		t.Fatalf("Failed to decode test image: %v", err)
	}
	return a
}

func instant(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestScenarioDefaultsWithImageSucceeds(t *testing.T) {
	svc := predict.NewSimulatedService(predict.SimulatedConfig{
		MinDelay: 4 * time.Second,
		MaxDelay: 8 * time.Second,
		Seed:     99,
		Wait:     instant,
	}, nil)
	c, st, bus := setup(t, svc)
	sub, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()

	for _, f := range params.Fields() {
		if _, err := st.SetParameter(f.ID, strconv.FormatFloat(f.Default, 'f', -1, 64)); err != nil {
			t.Fatalf("SetParameter(%s) failed: %v", f.ID, err)
		}
	}
	attachImage(t, st)

	if c.State() != Idle {
		t.Fatalf("Expected Idle, got %s", c.State())
	}
	done, err := c.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitSettled(t, done)

	got := strings.Join(states(drain(sub)), ",")
	if got != "validating,submitting,succeeded" {
		t.Errorf("Unexpected transitions %s", got)
	}

	res := c.Result()
	if res == nil {
		t.Fatal("Expected a result")
	}
	if math.IsNaN(res.FailureLoad) || math.IsInf(res.FailureLoad, 0) || res.FailureLoad < 0 {
		t.Errorf("Expected a finite non-negative failure load, got %v", res.FailureLoad)
	}
}

func TestScenarioMissingWidthIsRejected(t *testing.T) {
	svc := newFakeService(&predict.Result{FailureLoad: 1}, nil)
	c, st, bus := setup(t, svc)
	attachImage(t, st)
	if err := st.ClearParameter(params.BridgeWidth); err != nil {
		t.Fatalf("ClearParameter failed: %v", err)
	}

	sub, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()

	_, err := c.Submit(context.Background())
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}
	if c.State() != Idle {
		t.Errorf("Expected Idle, got %s", c.State())
	}
	if svc.count() != 0 {
		t.Errorf("Expected no request, got %d", svc.count())
	}

	ns := notices(drain(sub))
	if len(ns) != 1 || ns[0].Level != events.LevelError || !strings.Contains(ns[0].Description, "Bridge Width") {
		t.Errorf("Expected one rejection notice naming Bridge Width, got %+v", ns)
	}
}

func TestScenarioMissingImageIsRejected(t *testing.T) {
	svc := newFakeService(&predict.Result{FailureLoad: 1}, nil)
	c, _, bus := setup(t, svc)

	sub, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()

	_, err := c.Submit(context.Background())
	var ve *ValidationError
	if !errors.As(err, &ve) || !ve.MissingImage || len(ve.MissingFields) != 0 {
		t.Fatalf("Expected a missing image error, got %v", err)
	}
	if c.State() != Idle {
		t.Errorf("Expected Idle, got %s", c.State())
	}
	if svc.count() != 0 {
		t.Errorf("Expected no request, got %d", svc.count())
	}

	ns := notices(drain(sub))
	if len(ns) != 1 || ns[0].Description != "Please upload a bridge image" {
		t.Errorf("Expected a missing image notice, got %+v", ns)
	}
}
