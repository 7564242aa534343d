package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"BidToEarn-Agent/internal/agent"
	xerrors "BidToEarn-Agent/internal/errors"
	"BidToEarn-Agent/internal/pinning"
	"BidToEarn-Agent/internal/session"
	"BidToEarn-Agent/internal/storage/mysql"
)

type fakeDispatcher struct {
	lastKey   string
	lastInput string
	reply     *agent.Reply
	err       error
	health    session.Health
	known     bool
}

func (d *fakeDispatcher) Dispatch(_ context.Context, sessionKey, input string) (*agent.Reply, error) {
	d.lastKey = sessionKey
	d.lastInput = input
	if d.err != nil {
		return nil, d.err
	}
	if d.reply != nil {
		return d.reply, nil
	}
	return &agent.Reply{Content: "ok"}, nil
}

func (d *fakeDispatcher) Health(_ string) (session.Health, bool) {
	return d.health, d.known
}

type fakePinner struct {
	files  []string
	jsons  []string
	result *pinning.Result
	err    error
}

func (p *fakePinner) PinFile(_ context.Context, name string, _ io.Reader) (*pinning.Result, error) {
	p.files = append(p.files, name)
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *fakePinner) PinJSON(_ context.Context, name string, _ any) (*pinning.Result, error) {
	p.jsons = append(p.jsons, name)
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

type fakeTranscripts struct {
	lastKey   string
	lastLimit int
	records   []mysql.TranscriptRecord
	err       error
}

func (f *fakeTranscripts) ListBySession(_ context.Context, sessionKey string, limit int) ([]mysql.TranscriptRecord, error) {
	f.lastKey = sessionKey
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func newTestServer(d Dispatcher, p pinning.Service) http.Handler {
	return NewServer(":0", d, p, nil).Handler()
}

func TestChatEndpoint(t *testing.T) {
	dispatcher := &fakeDispatcher{reply: &agent.Reply{Content: "Hello from Biddy"}}
	handler := newTestServer(dispatcher, nil)

	body := `{"sessionKey":"alice","message":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionKey != "alice" || resp.Reply.Content != "Hello from Biddy" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if dispatcher.lastKey != "alice" || dispatcher.lastInput != "hi" {
		t.Fatalf("dispatch args: key=%q input=%q", dispatcher.lastKey, dispatcher.lastInput)
	}
}

func TestChatDefaultsSessionKey(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	handler := newTestServer(dispatcher, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if dispatcher.lastKey != "default" {
		t.Fatalf("expected default session key, got %q", dispatcher.lastKey)
	}
}

func TestChatValidation(t *testing.T) {
	handler := newTestServer(&fakeDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"  "}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message should be 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET should be 405, got %d", rec.Code)
	}
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		code   xerrors.Code
		status int
	}{
		{xerrors.CodeInvalidParameters, http.StatusBadRequest},
		{xerrors.CodeTimeout, http.StatusGatewayTimeout},
		{xerrors.CodeSessionFailed, http.StatusServiceUnavailable},
		{xerrors.CodeUpstream, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		dispatcher := &fakeDispatcher{err: xerrors.New(tc.code, "boom")}
		handler := newTestServer(dispatcher, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Errorf("code %s: status = %d, want %d", tc.code, rec.Code, tc.status)
		}
		var body map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["code"] != string(tc.code) {
			t.Errorf("code %s: body code = %q", tc.code, body["code"])
		}
	}
}

func multipartBody(t *testing.T, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("image-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestUploadSuccess(t *testing.T) {
	pinner := &fakePinner{result: &pinning.Result{
		Hash:       "QmHash",
		IPFSURL:    "ipfs://QmHash",
		GatewayURL: "https://gw/ipfs/QmHash",
	}}
	handler := newTestServer(&fakeDispatcher{}, pinner)

	body, contentType := multipartBody(t, "art.png")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp pinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.IPFSURL != "ipfs://QmHash" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(pinner.files) != 1 || pinner.files[0] != "art.png" {
		t.Fatalf("pinner calls: %v", pinner.files)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	pinner := &fakePinner{result: &pinning.Result{Hash: "x"}}
	handler := newTestServer(&fakeDispatcher{}, pinner)

	body, contentType := multipartBody(t, "malware.exe")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(pinner.files) != 0 {
		t.Fatal("pinner must not be called for rejected files")
	}
}

func TestUploadMetadata(t *testing.T) {
	pinner := &fakePinner{result: &pinning.Result{
		Hash:       "QmMeta",
		IPFSURL:    "ipfs://QmMeta",
		GatewayURL: "https://gw/ipfs/QmMeta",
	}}
	handler := newTestServer(&fakeDispatcher{}, pinner)

	body := `{"name":"nft.json","metadata":{"name":"My NFT"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/upload/metadata", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(pinner.jsons) != 1 || pinner.jsons[0] != "nft.json" {
		t.Fatalf("pinner calls: %v", pinner.jsons)
	}

	// 缺少 metadata 字段时拒绝。
	req = httptest.NewRequest(http.MethodPost, "/api/upload/metadata", strings.NewReader(`{"name":"x"}`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing metadata should be 400, got %d", rec.Code)
	}
}

func TestUploadWithoutPinner(t *testing.T) {
	handler := newTestServer(&fakeDispatcher{}, nil)

	body, contentType := multipartBody(t, "art.png")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	dispatcher := &fakeDispatcher{
		health: session.Health{Status: "healthy"},
		known:  true,
	}
	handler := newTestServer(dispatcher, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/health?session=alice", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	sessionBody, ok := body["session"].(map[string]any)
	if !ok || sessionBody["status"] != "healthy" {
		t.Fatalf("session health missing: %v", body)
	}
}

func TestHealthReflectsDegradedSession(t *testing.T) {
	dispatcher := &fakeDispatcher{
		health: session.Health{Status: "degraded", Error: "上游超时"},
		known:  true,
	}
	handler := newTestServer(dispatcher, nil)

	req := httptest.NewRequest(http.MethodGet, "/health?session=alice", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded session should yield 503, got %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "degraded" {
		t.Fatalf("top-level status should mirror the session, got %v", body["status"])
	}

	// 不带 session 参数时服务整体仍然健康。
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bare health check should stay 200, got %d", rec.Code)
	}
}

func TestChatHistoryEndpoint(t *testing.T) {
	transcripts := &fakeTranscripts{
		records: []mysql.TranscriptRecord{
			{SessionKey: "alice", Role: "user", Content: "hi", CreatedAt: 1},
			{SessionKey: "alice", Role: "assistant", Content: "hello", CreatedAt: 2},
		},
	}
	handler := NewServer(":0", &fakeDispatcher{}, nil, transcripts).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history?session=alice&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if transcripts.lastKey != "alice" || transcripts.lastLimit != 10 {
		t.Fatalf("repository query = (%q, %d)", transcripts.lastKey, transcripts.lastLimit)
	}
	var body struct {
		SessionKey string                   `json:"sessionKey"`
		Messages   []mysql.TranscriptRecord `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 2 || body.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", body.Messages)
	}
}

func TestChatHistoryValidation(t *testing.T) {
	handler := NewServer(":0", &fakeDispatcher{}, nil, &fakeTranscripts{}).Handler()

	// 缺少 session 参数。
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing session should be 400, got %d", rec.Code)
	}

	// limit 非法。
	req = httptest.NewRequest(http.MethodGet, "/api/chat/history?session=alice&limit=abc", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit should be 400, got %d", rec.Code)
	}

	// 未配置存储。
	handler = newTestServer(&fakeDispatcher{}, nil)
	req = httptest.NewRequest(http.MethodGet, "/api/chat/history?session=alice", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("missing store should be 503, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestServer(&fakeDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("CORS header missing")
	}
}
