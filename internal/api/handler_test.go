package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/kartoza/bridge-predict/internal/attachment"
	"github.com/kartoza/bridge-predict/internal/config"
	"github.com/kartoza/bridge-predict/internal/events"
	"github.com/kartoza/bridge-predict/internal/predict"
	"github.com/kartoza/bridge-predict/internal/presets"
	"github.com/kartoza/bridge-predict/internal/session"
	"github.com/kartoza/bridge-predict/internal/testutil"
)

// gatedService blocks every prediction until release is closed
type gatedService struct {
	release chan struct{}
}

func (g *gatedService) Name() string { return "gated" }

func (g *gatedService) Predict(ctx context.Context, req *predict.Request) (*predict.Result, error) {
	select {
	case <-g.release:
		return &predict.Result{FailureLoad: 321, Unit: predict.Grams, Backend: "gated"}, nil
	case <-ctx.Done():
		return nil, &predict.TransportError{Op: "send", Err: ctx.Err()}
	}
}

func instantService() predict.Service {
	return predict.NewSimulatedService(predict.SimulatedConfig{
		Seed:         3,
		DetectAngles: true,
		Wait:         func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}, nil)
}

func newTestRouter(t *testing.T, svc predict.Service) *mux.Router {
	t.Helper()
	cfg := config.Config{
		Port:           8080,
		DataDir:        t.TempDir(),
		Version:        "test",
		MaxUploadBytes: 1 << 20,
	}

	store, err := presets.NewStore(cfg.DataDir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	sessions := session.NewManager(svc, 0, time.Hour, nil)
	t.Cleanup(func() {
		sessions.Close()
		store.Close()
	})

	r := mux.NewRouter()
	NewHandler(sessions, store, cfg, nil).RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v (body %q)", err, w.Body.String())
	}
}

func createSession(t *testing.T, r http.Handler) sessionView {
	t.Helper()
	w := do(t, r, "POST", "/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	var v sessionView
	decode(t, w, &v)
	return v
}

func uploadImage(t *testing.T, r http.Handler, id string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "bridge.png")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest("PUT", "/sessions/"+id+"/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t, instantService())

	w := do(t, r, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	decode(t, w, &response)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestInfoEndpoint(t *testing.T) {
	r := newTestRouter(t, instantService())

	w := do(t, r, "GET", "/info", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	decode(t, w, &response)
	if response["version"] != "test" {
		t.Errorf("Expected version 'test', got '%v'", response["version"])
	}
	if response["backend"] != "simulated" {
		t.Errorf("Expected backend 'simulated', got '%v'", response["backend"])
	}
}

func TestListFields(t *testing.T) {
	r := newTestRouter(t, instantService())

	w := do(t, r, "GET", "/fields", nil)
	var fields []map[string]any
	decode(t, w, &fields)
	if len(fields) != 24 {
		t.Fatalf("Expected 24 fields, got %d", len(fields))
	}
	if fields[1]["id"] != "bridgeWidth" || fields[1]["label"] != "Bridge Width" {
		t.Errorf("Unexpected second field %v", fields[1])
	}
}

func TestCreateSessionHoldsDefaults(t *testing.T) {
	r := newTestRouter(t, instantService())
	v := createSession(t, r)

	if v.ID == "" {
		t.Fatal("Expected a session id")
	}
	if v.State != "idle" {
		t.Errorf("Expected idle, got %s", v.State)
	}
	if len(v.Parameters) != 24 {
		t.Errorf("Expected 24 parameters, got %d", len(v.Parameters))
	}
	for k, p := range v.Parameters {
		if p == nil {
			t.Errorf("Expected %s to have a default", k)
		}
	}
	if v.Image != nil {
		t.Error("Expected no image")
	}
}

func TestUnknownSession(t *testing.T) {
	r := newTestRouter(t, instantService())

	for _, path := range []string{"/sessions/nope", "/sessions/nope/result"} {
		if w := do(t, r, "GET", path, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestSetParameter(t *testing.T) {
	r := newTestRouter(t, instantService())
	id := createSession(t, r).ID

	tests := []struct {
		name    string
		field   string
		value   string
		status  int
		changed bool
		want    any
	}{
		{"valid", "bridgeWidth", "12.5", http.StatusOK, true, 12.5},
		{"out of range kept", "bridgeWidth", "1000", http.StatusOK, true, 1000.0},
		{"unparseable ignored", "bridgeWidth", "abc", http.StatusOK, false, 1000.0},
		{"empty ignored", "bridgeWidth", "", http.StatusOK, false, 1000.0},
		{"unknown field", "towerHeight", "1", http.StatusNotFound, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, "PUT", "/sessions/"+id+"/parameters/"+tt.field, map[string]string{"value": tt.value})
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp map[string]any
			decode(t, w, &resp)
			if resp["changed"] != tt.changed {
				t.Errorf("Expected changed=%v, got %v", tt.changed, resp["changed"])
			}
			if resp["value"] != tt.want {
				t.Errorf("Expected value %v, got %v", tt.want, resp["value"])
			}
		})
	}
}

func TestPredictValidation(t *testing.T) {
	r := newTestRouter(t, instantService())
	id := createSession(t, r).ID

	// No image
	w := do(t, r, "POST", "/sessions/"+id+"/predict", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", w.Code)
	}
	var resp struct {
		Error        string   `json:"error"`
		Missing      []string `json:"missing"`
		MissingImage bool     `json:"missingImage"`
	}
	decode(t, w, &resp)
	if !resp.MissingImage || len(resp.Missing) != 0 {
		t.Errorf("Expected a missing image only, got %+v", resp)
	}

	// Image but an emptied field
	if w := uploadImage(t, r, id, testutil.PNG(t, 10, 10)); w.Code != http.StatusOK {
		t.Fatalf("Upload failed with %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, r, "DELETE", "/sessions/"+id+"/parameters/bridgeWidth", nil); w.Code != http.StatusOK {
		t.Fatalf("Clear failed with %d", w.Code)
	}

	w = do(t, r, "POST", "/sessions/"+id+"/predict", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", w.Code)
	}
	decode(t, w, &resp)
	if len(resp.Missing) != 1 || resp.Missing[0] != "Bridge Width" {
		t.Errorf("Expected Bridge Width missing, got %v", resp.Missing)
	}
	if resp.Error != "Please fill in: Bridge Width" {
		t.Errorf("Unexpected message %q", resp.Error)
	}

	var v sessionView
	decode(t, do(t, r, "GET", "/sessions/"+id, nil), &v)
	if v.State != "idle" {
		t.Errorf("Expected idle after rejection, got %s", v.State)
	}
	if v.Parameters["bridgeWidth"] != nil {
		t.Errorf("Expected bridgeWidth to be null, got %v", *v.Parameters["bridgeWidth"])
	}
}

func TestPredictSucceeds(t *testing.T) {
	r := newTestRouter(t, instantService())
	id := createSession(t, r).ID

	w := uploadImage(t, r, id, testutil.PNG(t, 10, 10))
	if w.Code != http.StatusOK {
		t.Fatalf("Upload failed with %d: %s", w.Code, w.Body.String())
	}
	var v sessionView
	decode(t, w, &v)
	if v.Image == nil || v.Image.Width != 10 || !strings.HasPrefix(v.Image.Preview, "data:image/png;base64,") {
		t.Fatalf("Unexpected image %+v", v.Image)
	}

	w = do(t, r, "POST", "/sessions/"+id+"/predict?wait=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &v)
	if v.State != "succeeded" {
		t.Errorf("Expected succeeded, got %s", v.State)
	}
	if v.Result == nil || v.Result.FailureLoad < 100 || v.Result.FailureLoad > 600 {
		t.Fatalf("Unexpected result %+v", v.Result)
	}
	if v.Parameters["inclinationAngle"] == nil || *v.Parameters["inclinationAngle"] != *v.Result.Inclination {
		t.Error("Expected the detected inclination to be applied")
	}

	w = do(t, r, "GET", "/sessions/"+id+"/result?unit=kg", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var res map[string]any
	decode(t, w, &res)
	if f, _ := res["formatted"].(string); !strings.HasSuffix(f, " kg") {
		t.Errorf("Expected a kg value, got %v", res["formatted"])
	}

	if w := do(t, r, "GET", "/sessions/"+id+"/result?unit=lb", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an unknown unit, got %d", w.Code)
	}
}

func TestPredictBusy(t *testing.T) {
	svc := &gatedService{release: make(chan struct{})}
	r := newTestRouter(t, svc)
	id := createSession(t, r).ID
	uploadImage(t, r, id, testutil.PNG(t, 10, 10))

	w := do(t, r, "POST", "/sessions/"+id+"/predict", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	var v sessionView
	decode(t, w, &v)
	if v.State != "submitting" {
		t.Errorf("Expected submitting, got %s", v.State)
	}

	if w := do(t, r, "POST", "/sessions/"+id+"/predict", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	close(svc.release)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		decode(t, do(t, r, "GET", "/sessions/"+id, nil), &v)
		if v.State == "succeeded" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Expected succeeded, got %s", v.State)
}

func TestSetImageVariants(t *testing.T) {
	r := newTestRouter(t, instantService())
	id := createSession(t, r).ID

	png := testutil.PNG(t, 8, 6)
	w := do(t, r, "PUT", "/sessions/"+id+"/image", map[string]string{
		"dataUrl":  attachment.DataURL("image/png", png),
		"filename": "photo.png",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var v sessionView
	decode(t, w, &v)
	if v.Image == nil || v.Image.Filename != "photo.png" || v.Image.Height != 6 {
		t.Errorf("Unexpected image %+v", v.Image)
	}

	if w := uploadImage(t, r, id, []byte("not an image at all")); w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", w.Code)
	}

	if w := do(t, r, "DELETE", "/sessions/"+id+"/image", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	decode(t, do(t, r, "GET", "/sessions/"+id, nil), &v)
	if v.Image != nil {
		t.Error("Expected the image to be removed")
	}

	req := httptest.NewRequest("PUT", "/sessions/"+id+"/image", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without an image part, got %d", rec.Code)
	}
}

func TestImageUploadLimit(t *testing.T) {
	r := newTestRouter(t, instantService())
	id := createSession(t, r).ID

	big := strings.Repeat("A", 2<<20)
	w := do(t, r, "PUT", "/sessions/"+id+"/image", map[string]string{
		"dataUrl": "data:image/png;base64," + big,
	})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", w.Code)
	}
}

func TestPresetLifecycle(t *testing.T) {
	r := newTestRouter(t, instantService())
	source := createSession(t, r).ID
	do(t, r, "PUT", "/sessions/"+source+"/parameters/bridgeLength", map[string]string{"value": "77"})

	w := do(t, r, "POST", "/presets", map[string]string{"name": "long bridge", "sessionId": source})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var preset presets.Preset
	decode(t, w, &preset)
	if preset.Values["bridgeLength"] != 77 {
		t.Errorf("Expected bridgeLength 77, got %v", preset.Values["bridgeLength"])
	}

	var list []presets.Preset
	decode(t, do(t, r, "GET", "/presets", nil), &list)
	if len(list) != 1 {
		t.Fatalf("Expected 1 preset, got %d", len(list))
	}

	target := createSession(t, r).ID
	w = do(t, r, "POST", "/sessions/"+target+"/presets/"+preset.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var v sessionView
	decode(t, w, &v)
	if v.Parameters["bridgeLength"] == nil || *v.Parameters["bridgeLength"] != 77 {
		t.Error("Expected the preset to be applied")
	}

	if w := do(t, r, "POST", "/presets", map[string]string{"name": "empty"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without values, got %d", w.Code)
	}

	if w := do(t, r, "DELETE", "/presets/"+preset.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w := do(t, r, "GET", "/presets/"+preset.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	r := newTestRouter(t, instantService())
	srv := httptest.NewServer(r)
	defer srv.Close()

	id := createSession(t, r).ID
	uploadImage(t, r, id, testutil.PNG(t, 10, 10))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.Type != events.TypeState || ev.State != "idle" {
		t.Errorf("Expected initial idle state, got %+v", ev)
	}

	if w := do(t, r, "POST", "/sessions/"+id+"/predict", nil); w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}

	var seen []string
	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON failed after %v: %v", seen, err)
		}
		if ev.Type == events.TypeState {
			seen = append(seen, ev.State)
		}
		if ev.Type == events.TypeNotice && ev.Notice.Title == "Analysis complete!" {
			break
		}
	}
	if strings.Join(seen, ",") != "validating,submitting,succeeded" {
		t.Errorf("Unexpected transitions %v", seen)
	}
}
