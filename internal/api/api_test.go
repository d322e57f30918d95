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

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wuwenbin0122/docchat/internal/auth"
	"github.com/wuwenbin0122/docchat/internal/models"
	"github.com/wuwenbin0122/docchat/internal/session"
	"github.com/wuwenbin0122/docchat/services"
)

type stubChat struct {
	systems []string
	err     error
}

func (s *stubChat) Complete(ctx context.Context, credential string, history []models.Turn, prompt, system string) (string, error) {
	s.systems = append(s.systems, system)
	if s.err != nil {
		return "", s.err
	}
	return "echo: " + prompt, nil
}

type stubLookup struct{}

func (stubLookup) Lookup(ctx context.Context, query string) services.LookupResult {
	return services.LookupResult{Snippet: "web snippet", Found: true}
}

func setupTestRouter(t *testing.T) (*gin.Engine, *stubChat) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authService, err := auth.NewService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	chat := &stubChat{}
	orch := services.NewOrchestrator(chat, stubLookup{}, nil, nil)
	handler := NewHandler(authService, session.NewManager(time.Hour), orch, nil)

	router := gin.New()
	handler.RegisterRoutes(router)

	return router, chat
}

func startSession(t *testing.T, router *gin.Engine, apiKey string) string {
	t.Helper()

	rec := httptest.NewRecorder()
	req := newJSONRequest(t, http.MethodPost, "/api/sessions", "", map[string]string{"api_key": apiKey})
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	var resp map[string]any
	decodeBody(t, rec.Body.Bytes(), &resp)
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatalf("expected token in session response")
	}
	return token
}

func TestChatRoundTrip(t *testing.T) {
	router, _ := setupTestRouter(t)
	token := startSession(t, router, "sk-test")

	for _, prompt := range []string{"hi", "how are you"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/session/chat", token, map[string]string{"prompt": prompt}))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Turn models.Turn `json:"turn"`
		}
		decodeBody(t, rec.Body.Bytes(), &resp)
		if resp.Turn.User != prompt || resp.Turn.Assistant != "echo: "+prompt {
			t.Fatalf("unexpected turn %+v", resp.Turn)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/session/turns", token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var list struct {
		Turns []models.Turn `json:"turns"`
	}
	decodeBody(t, rec.Body.Bytes(), &list)
	if len(list.Turns) != 2 || list.Turns[0].User != "hi" || list.Turns[1].User != "how are you" {
		t.Fatalf("expected two turns in order, got %+v", list.Turns)
	}
}

func TestStartSessionWithEmptyBody(t *testing.T) {
	router, _ := setupTestRouter(t)

	for _, length := range []int64{0, -1} {
		req, err := http.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(""))
		if err != nil {
			t.Fatalf("failed to create request: %v", err)
		}
		// -1 is how a chunked body of unknown length arrives
		req.ContentLength = length
		req.Header.Set("Content-Type", "application/json")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("content length %d: expected status 201, got %d: %s", length, rec.Code, rec.Body.String())
		}

		var resp map[string]any
		decodeBody(t, rec.Body.Bytes(), &resp)
		if resp["has_credential"] != false {
			t.Fatalf("content length %d: expected no credential, got %v", length, resp["has_credential"])
		}
	}

	rec := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{broken"))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed body, got %d", rec.Code)
	}
}

func TestChatRequiresSessionToken(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/session/chat", "", map[string]string{"prompt": "hi"}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/session/chat", "garbage", map[string]string{"prompt": "hi"}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for bad token, got %d", rec.Code)
	}
}

func TestChatWithoutCredentialIsUnauthenticated(t *testing.T) {
	router, chat := setupTestRouter(t)
	token := startSession(t, router, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/session/chat", token, map[string]string{"prompt": "hi"}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if len(chat.systems) != 0 {
		t.Fatalf("expected no chat call without credential")
	}

	var resp map[string]any
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp["error"] == "" || resp["detail"] == "" {
		t.Fatalf("expected visible error body, got %v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPut, "/api/session/credential", token, map[string]string{"api_key": "sk-late"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/session/chat", token, map[string]string{"prompt": "hi"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 after setting credential, got %d", rec.Code)
	}
}

func TestChatUpstreamErrorsMapToStatus(t *testing.T) {
	router, chat := setupTestRouter(t)
	token := startSession(t, router, "sk-test")

	cases := []struct {
		err  error
		want int
	}{
		{services.ErrRateLimited, http.StatusTooManyRequests},
		{services.ErrUnauthenticated, http.StatusUnauthorized},
		{&services.UpstreamError{StatusCode: 500, Message: "boom"}, http.StatusBadGateway},
		{services.ErrEmptyResponse, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		chat.err = tc.err
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/session/chat", token, map[string]string{"prompt": "hi"}))
		if rec.Code != tc.want {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/session/turns", token, nil))
	var list struct {
		Turns []models.Turn `json:"turns"`
	}
	decodeBody(t, rec.Body.Bytes(), &list)
	if len(list.Turns) != 0 {
		t.Fatalf("expected failed turns to leave history empty, got %d", len(list.Turns))
	}
}

func TestUploadFilesFeedsKnowledge(t *testing.T) {
	router, chat := setupTestRouter(t)
	token := startSession(t, router, "sk-test")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, token, map[string]string{"a.txt": "foo", "b.txt": "bar"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp["files"] != float64(2) || resp["characters"] != float64(len("foo\nbar")) {
		t.Fatalf("unexpected upload response %v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/session/chat", token, map[string]string{"prompt": "summarise"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(chat.systems[0], "Knowledge from uploaded files:\n") {
		t.Fatalf("expected knowledge block in system prompt, got %q", chat.systems[0])
	}
	if !strings.Contains(chat.systems[0], "foo") || !strings.Contains(chat.systems[0], "bar") {
		t.Fatalf("expected both files in system prompt, got %q", chat.systems[0])
	}
}

func TestUploadRejectsUndecodableFile(t *testing.T) {
	router, _ := setupTestRouter(t)
	token := startSession(t, router, "sk-test")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, token, map[string]string{"broken.pdf": "not a pdf"}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestEndSession(t *testing.T) {
	router, _ := setupTestRouter(t)
	token := startSession(t, router, "sk-test")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodDelete, "/api/session", token, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/session/turns", token, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after session end, got %d", rec.Code)
	}
}

func TestChatWebsocket(t *testing.T) {
	router, _ := setupTestRouter(t)
	token := startSession(t, router, "sk-test")

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/session/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read history frame: %v", err)
	}
	if frame["type"] != "history" {
		t.Fatalf("expected history frame first, got %v", frame)
	}

	if err := conn.WriteJSON(map[string]string{"type": "prompt", "prompt": "please search this"}); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	frame = nil
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read turn frame: %v", err)
	}
	if frame["type"] != "turn" {
		t.Fatalf("expected turn frame, got %v", frame)
	}
	turn, _ := frame["turn"].(map[string]any)
	if turn["assistant"] != "echo: please search this" {
		t.Fatalf("unexpected turn payload %v", frame["turn"])
	}

	if err := conn.WriteJSON(map[string]string{"type": "prompt", "prompt": " "}); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	frame = nil
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if frame["type"] != "error" {
		t.Fatalf("expected error frame for empty prompt, got %v", frame)
	}
}

func newJSONRequest(t *testing.T, method, path, token string, body any) *http.Request {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	req, err := http.NewRequest(method, path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newUploadRequest(t *testing.T, token string, files map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	// fixed order keeps the extracted text deterministic
	for _, name := range []string{"a.txt", "b.txt", "broken.pdf"} {
		content, ok := files[name]
		if !ok {
			continue
		}
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPut, "/api/session/files", &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func decodeBody(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
