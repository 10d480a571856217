package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inferd/dispatcher/internal/inference"
	"github.com/inferd/dispatcher/pkg/dispatch"
)

func newTestAPI(t *testing.T) (*API, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := dispatch.NewLogger(dispatch.LoggingConfig{Level: "error", Format: "text"})
	server := dispatch.NewWorkerServer(inference.NewReferenceModel(), nil, &dispatch.JSONCodec{}, logger)

	port, err := dispatch.NewPortAllocator().Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx, port)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, err := dispatch.Dial(dialCtx, port, time.Second, nil)
	if err != nil {
		cancel()
		t.Fatalf("Dial() error = %v", err)
	}

	registry := dispatch.NewRegistry(1)
	handle := dispatch.Handle{PID: 100, Port: port, Channel: conn}
	if err := registry.Insert(handle, dispatch.StatusIdle); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	manager := dispatch.NewManagerForTest(registry, dispatch.ManagerConfig{}, logger)
	api := NewAPI(manager, logger)

	return api, func() {
		conn.Close()
		cancel()
	}
}

func TestAPI_Inference_Success(t *testing.T) {
	api, stop := newTestAPI(t)
	defer stop()

	router := gin.New()
	api.Register(router)

	body, _ := json.Marshal(inferenceRequest{Type: inference.TextToText, Text: "hello"})
	req := httptest.NewRequest(http.MethodPost, InferencePath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}

	var resp inferenceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Inference.Text != "HELLO" {
		t.Errorf("Inference.Text = %q, want %q", resp.Inference.Text, "HELLO")
	}
	if resp.DurationSec <= 0 {
		t.Errorf("DurationSec = %v, want > 0", resp.DurationSec)
	}
}

func TestAPI_Inference_BadJSON(t *testing.T) {
	api, stop := newTestAPI(t)
	defer stop()

	router := gin.New()
	api.Register(router)

	req := httptest.NewRequest(http.MethodPost, InferencePath, bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAPI_Inference_InvalidTask(t *testing.T) {
	api, stop := newTestAPI(t)
	defer stop()

	router := gin.New()
	api.Register(router)

	body, _ := json.Marshal(inferenceRequest{Type: inference.ImageClassification})
	req := httptest.NewRequest(http.MethodPost, InferencePath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a task missing its image payload", w.Code)
	}
}

func TestAPI_Workers(t *testing.T) {
	api, stop := newTestAPI(t)
	defer stop()

	router := gin.New()
	api.Register(router)

	req := httptest.NewRequest(http.MethodGet, "/workers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAPI_WorkersStatus(t *testing.T) {
	api, stop := newTestAPI(t)
	defer stop()

	router := gin.New()
	api.Register(router)

	req := httptest.NewRequest(http.MethodGet, "/workers/_status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
}

func TestAPI_WorkersInfo(t *testing.T) {
	api, stop := newTestAPI(t)
	defer stop()

	router := gin.New()
	api.Register(router)

	req := httptest.NewRequest(http.MethodGet, "/workers/_info", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
}
