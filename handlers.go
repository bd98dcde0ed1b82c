package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"time"

	"github.com/Tutortoise/image-scan-service/classify"
	"github.com/Tutortoise/image-scan-service/loader"
	"github.com/Tutortoise/image-scan-service/models"
	"github.com/Tutortoise/image-scan-service/scan"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type AppState struct {
	Config Config
	Loader *loader.Loader
	Store  *scan.Store
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type PredictResponse struct {
	scan.Result
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id"`
}

func (s *AppState) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", servePage("scan.html")).Methods("GET")
	r.HandleFunc("/admin", servePage("admin.html")).Methods("GET")

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.addMonitoringRoutes(r)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/model", s.handleModelStatus).Methods("GET")
	api.HandleFunc("/model/reload", s.handleModelReload).Methods("POST")
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/image", s.handleUploadImage).Methods("POST", "PUT")
	api.HandleFunc("/sessions/{id}/image", s.handleGetImage).Methods("GET")
	api.HandleFunc("/sessions/{id}/predict", s.handlePredict).Methods("POST")

	r.HandleFunc("/predict/image", s.handlePredictImage).Methods("POST")

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Filename")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"model":  string(s.Loader.Status().State),
	})
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	classifier, status := s.Loader.Classifier()
	response := map[string]interface{}{
		"model":           status,
		"active_sessions": s.Store.Len(),
		"cpu_features":    classify.CPUFeatures(),
	}
	if classifier != nil {
		response["pool"] = classifier.Pool().GetMetrics()
	}

	sendJSON(w, http.StatusOK, response)
}

func (s *AppState) handleModelStatus(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, s.Loader.Status())
}

func (s *AppState) handleModelReload(w http.ResponseWriter, r *http.Request) {
	err := s.Loader.Reload(r.Context())
	switch {
	case err == nil:
		sendJSON(w, http.StatusAccepted, s.Loader.Status())
	case errors.Is(err, loader.ErrLoadInProgress):
		sendErrorResponse(w, "load_in_progress", err.Error(), http.StatusConflict)
	case errors.Is(err, loader.ErrAlreadyLoaded):
		sendErrorResponse(w, "already_loaded", err.Error(), http.StatusConflict)
	default:
		sendErrorResponse(w, "reload_failed", err.Error(), http.StatusServiceUnavailable)
	}
}

func (s *AppState) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	session := s.Store.Create()
	sendJSON(w, http.StatusCreated, session.Snapshot())
}

func (s *AppState) lookupSession(w http.ResponseWriter, r *http.Request) (*scan.Session, bool) {
	id := mux.Vars(r)["id"]
	session, ok := s.Store.Get(id)
	if !ok {
		sendErrorResponse(w, "session_not_found", "Unknown scan session: "+id, http.StatusNotFound)
	}
	return session, ok
}

func (s *AppState) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, session.Snapshot())
}

func (s *AppState) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.Store.Delete(id) {
		sendErrorResponse(w, "session_not_found", "Unknown scan session: "+id, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *AppState) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	filename, data, err := s.readUpload(w, r)
	if err != nil {
		sendUploadError(w, err)
		return
	}

	info, err := session.Intake(filename, data)
	if err != nil {
		sendErrorDetails(w, "invalid_image", "Failed to decode image", err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("Session %s: received %s (%s, %d bytes, %dx%d)",
		session.ID, info.Filename, info.Format, info.Size, info.Width, info.Height)

	sendJSON(w, http.StatusOK, session.Snapshot())
}

func (s *AppState) handleGetImage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	img, ok := session.Image()
	if !ok {
		sendErrorResponse(w, "no_image", MsgNoImage, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(img.Data)
}

func (s *AppState) handlePredict(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: uuid.NewString()}

	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.inferenceContext(r.Context())
	defer cancel()

	result := session.Infer(ctx, s.Loader, timings)

	timings.Total = time.Since(startTotal)
	if result.Outcome == scan.OutcomeOK {
		logTimings(s.Config.Debug, timings)
	}

	s.sendPredictResult(w, timings.RequestID, result)
}

// handlePredictImage classifies an upload in one call without keeping a session.
func (s *AppState) handlePredictImage(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: uuid.NewString()}

	_, data, err := s.readUpload(w, r)
	if err != nil {
		sendUploadError(w, err)
		return
	}

	decodeStart := time.Now()
	decoded, err := classify.DecodeImage(data)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		sendErrorDetails(w, "invalid_image", "Failed to decode image", err.Error(), http.StatusBadRequest)
		return
	}

	classifier, status := s.Loader.Classifier()
	if classifier == nil {
		result := scan.Result{Outcome: scan.OutcomeNotReady, Reason: string(status.State)}
		if status.State == loader.StateFailed {
			result = scan.Result{Outcome: scan.OutcomeLoadFailed, Reason: status.Error}
		}
		s.sendPredictResult(w, timings.RequestID, result)
		return
	}

	ctx, cancel := s.inferenceContext(r.Context())
	defer cancel()

	classified, err := classifier.Classify(ctx, decoded.Image, timings)
	if err != nil {
		s.sendPredictResult(w, timings.RequestID, scan.Result{Outcome: scan.OutcomeError, Reason: err.Error()})
		return
	}

	timings.Total = time.Since(startTotal)
	logTimings(s.Config.Debug, timings)

	s.sendPredictResult(w, timings.RequestID, scan.Result{
		Outcome:       scan.OutcomeOK,
		Predictions:   classified.Predictions,
		LabelMismatch: classified.LabelMismatch,
	})
}

func (s *AppState) inferenceContext(parent context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.Config.InferenceTimeout(); timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

func (s *AppState) sendPredictResult(w http.ResponseWriter, requestID string, result scan.Result) {
	status, message := outcomeStatus(result)
	if result.Outcome == scan.OutcomeError {
		log.Printf("RequestID: %s - prediction failed: %s", requestID, result.Reason)
	}
	sendJSON(w, status, PredictResponse{
		Result:    result,
		Message:   message,
		RequestID: requestID,
	})
}

func outcomeStatus(result scan.Result) (int, string) {
	switch result.Outcome {
	case scan.OutcomeOK:
		if result.LabelMismatch {
			return http.StatusOK, MsgLabelMismatch
		}
		return http.StatusOK, ""
	case scan.OutcomeNotReady:
		return http.StatusServiceUnavailable, MsgNotReady
	case scan.OutcomeLoadFailed:
		return http.StatusServiceUnavailable, MsgLoadFailed
	case scan.OutcomeNoImage:
		return http.StatusConflict, MsgNoImage
	case scan.OutcomeBusy:
		return http.StatusConflict, MsgBusy
	case scan.OutcomeSuperseded:
		return http.StatusConflict, MsgSuperseded
	default:
		return http.StatusInternalServerError, "Prediction failed"
	}
}

// readUpload pulls image bytes out of a JSON, multipart or raw request body.
func (s *AppState) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.Config.MaxUploadBytes())

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return handleJSONRequest(r)
	case "multipart/form-data":
		return handleMultipartRequest(r, s.Config.MaxUploadBytes())
	default:
		return handleRawRequest(r)
	}
}

func handleJSONRequest(r *http.Request) (string, []byte, error) {
	var req struct {
		Filename string `json:"filename"`
		Image    string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", nil, err
	}
	data, err := base64.StdEncoding.DecodeString(req.Image)
	return req.Filename, data, err
}

func handleMultipartRequest(r *http.Request, maxMemory int64) (string, []byte, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return "", nil, err
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	return header.Filename, data, err
}

func handleRawRequest(r *http.Request) (string, []byte, error) {
	data, err := io.ReadAll(r.Body)
	return r.Header.Get("X-Filename"), data, err
}

func logTimings(debug bool, t *models.ProcessingTimings) {
	if debug {
		log.Printf("[DEBUG] RequestID: %s - Processing times:\n"+
			"\tImage Decode: %v\n"+
			"\tResize:      %v\n"+
			"\tPreprocess:  %v\n"+
			"\tInference:   %v\n"+
			"\tPostprocess: %v\n"+
			"\tTotal:       %v",
			t.RequestID,
			t.ImageDecode,
			t.Resize,
			t.Preprocess,
			t.Inference,
			t.Postprocess,
			t.Total)
	}
}

func sendUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		sendErrorResponse(w, "image_too_large", "Image exceeds the upload limit", http.StatusRequestEntityTooLarge)
		return
	}
	sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendErrorDetails(w, code, message, "", status)
}

func sendErrorDetails(w http.ResponseWriter, code, message, details string, status int) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}
