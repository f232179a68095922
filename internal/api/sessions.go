package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/attachment"
	"github.com/kartoza/bridge-predict/internal/controller"
	"github.com/kartoza/bridge-predict/internal/httputil"
	"github.com/kartoza/bridge-predict/internal/params"
	"github.com/kartoza/bridge-predict/internal/predict"
	"github.com/kartoza/bridge-predict/internal/session"
	"github.com/kartoza/bridge-predict/internal/store"
)

// sessionView is the JSON shape of a session. Unset parameters are null.
type sessionView struct {
	ID         string                 `json:"id"`
	State      controller.State       `json:"state"`
	Parameters map[string]*float64    `json:"parameters"`
	Image      *attachment.Attachment `json:"image"`
	Decoding   bool                   `json:"decoding"`
	Result     *predict.Result        `json:"result"`
	LastError  string                 `json:"lastError,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

func newSessionView(s *session.Session) sessionView {
	snap := s.Store.Snapshot()
	v := sessionView{
		ID:         s.ID,
		State:      s.Controller.State(),
		Parameters: parameterView(snap),
		Image:      snap.Image,
		Decoding:   s.Store.Decoding(),
		Result:     s.Controller.Result(),
		CreatedAt:  s.CreatedAt,
	}
	if err := s.Controller.LastError(); err != nil {
		v.LastError = err.Error()
	}
	return v
}

func parameterView(snap store.Snapshot) map[string]*float64 {
	out := make(map[string]*float64, len(snap.Params))
	for _, id := range params.IDs() {
		if v, ok := snap.Params.Get(id); ok {
			out[string(id)] = &v
		} else {
			out[string(id)] = nil
		}
	}
	return out
}

// session resolves the {id} route variable, writing a 404 when unknown
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		httputil.RespondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return s, true
}

// handleCreateSession starts a session holding the default parameters
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	httputil.RespondJSON(w, http.StatusCreated, newSessionView(s))
}

// handleGetSession returns the state of a session
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.RespondJSON(w, http.StatusOK, newSessionView(s))
}

// handleDeleteSession ends a session
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(mux.Vars(r)["id"]); err != nil {
		httputil.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetParameter stores a raw input value. Unparseable input is not an
// error: the field keeps its value and "changed" is false.
func (h *Handler) handleSetParameter(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Value string `json:"value"`
	}
	if err := httputil.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := params.FieldID(mux.Vars(r)["field"])
	changed, err := s.Store.SetParameter(id, req.Value)
	if errors.Is(err, store.ErrUnknownField) {
		httputil.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"field": id, "changed": changed, "value": nil}
	if v, ok := s.Store.Snapshot().Params.Get(id); ok {
		resp["value"] = v
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// handleClearParameter unsets a field, as emptying its input box does
func (h *Handler) handleClearParameter(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	id := params.FieldID(mux.Vars(r)["field"])
	if err := s.Store.ClearParameter(id); err != nil {
		httputil.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"field": id, "changed": true, "value": nil})
}

// handleSetImage accepts either a multipart "image" part or a JSON body
// {"dataUrl": "data:image/png;base64,...", "filename": "..."} and waits for
// the decode to finish.
func (h *Handler) handleSetImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	data, mimeType, filename, err := readImage(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondError(w, http.StatusRequestEntityTooLarge, "image exceeds the upload limit")
			return
		}
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case err := <-s.Store.SetImage(data, mimeType, filename):
		if errors.Is(err, attachment.ErrUnsupportedImage) {
			httputil.RespondError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		if err != nil {
			httputil.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case <-r.Context().Done():
		return
	}

	httputil.RespondJSON(w, http.StatusOK, newSessionView(s))
}

func readImage(r *http.Request) ([]byte, string, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		var req struct {
			DataURL  string `json:"dataUrl"`
			Filename string `json:"filename"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, "", "", err
		}
		mimeType, data, err := attachment.ParseDataURL(req.DataURL)
		if err != nil {
			return nil, "", "", err
		}
		return data, mimeType, req.Filename, nil
	}

	file, header, err := r.FormFile(predict.ImageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", "", err
		}
		return nil, "", "", errors.New("multipart field \"image\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", "", err
	}
	return data, header.Header.Get("Content-Type"), header.Filename, nil
}

// handleClearImage removes the attachment
func (h *Handler) handleClearImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Store.ClearImage()
	httputil.RespondJSON(w, http.StatusOK, newSessionView(s))
}

// handlePredict submits the session. With ?wait=true the response is held
// until the request settles.
func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	done, err := s.Controller.Submit(r.Context())
	if err != nil {
		var ve *controller.ValidationError
		switch {
		case errors.As(err, &ve):
			httputil.RespondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":        ve.Error(),
				"missing":      ve.MissingLabels(),
				"missingImage": ve.MissingImage,
			})
		case errors.Is(err, controller.ErrBusy):
			httputil.RespondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, controller.ErrClosed):
			httputil.RespondError(w, http.StatusGone, err.Error())
		default:
			h.logger.Error("submit failed", zap.String("session", s.ID), zap.Error(err))
			httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		httputil.RespondJSON(w, http.StatusAccepted, newSessionView(s))
		return
	}

	if err := waitFor(r.Context(), done); err != nil {
		return
	}
	httputil.RespondJSON(w, http.StatusOK, newSessionView(s))
}

func waitFor(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleGetResult returns the last prediction, optionally converted with
// ?unit=g|kg|N
func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	res := s.Controller.Result()
	if res == nil {
		httputil.RespondError(w, http.StatusNotFound, "no prediction yet")
		return
	}

	unit := res.Unit
	if q := strings.TrimSpace(r.URL.Query().Get("unit")); q != "" {
		u, err := predict.ParseUnit(q)
		if err != nil {
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		unit = u
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"result":    res,
		"state":     s.Controller.State(),
		"formatted": res.Format(unit),
	})
}
