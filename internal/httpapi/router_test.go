package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/woolychat/internal/ai"
	"github.com/suPer8Hu/woolychat/internal/config"
	"github.com/suPer8Hu/woolychat/internal/db"
	"github.com/suPer8Hu/woolychat/internal/httpapi/handlers"
)

type fakeOllama struct {
	*httptest.Server

	status int
	lines  []string
	tags   atomic.Int32

	mu   sync.Mutex
	last ai.ChatRequest
}

func newFakeOllama(t *testing.T) *fakeOllama {
	t.Helper()
	f := &fakeOllama{status: http.StatusOK}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			f.tags.Add(1)
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest"}]}`))
		case "/api/chat":
			var req ai.ChatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			f.last = req
			status, lines := f.status, f.lines
			f.mu.Unlock()
			w.WriteHeader(status)
			for _, l := range lines {
				_, _ = w.Write([]byte(l + "\n"))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOllama) reply(status int, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.lines = status, lines
}

func (f *fakeOllama) lastRequest() ai.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type memCache struct {
	mu  sync.Mutex
	raw json.RawMessage
}

func (m *memCache) GetModelList(context.Context) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, m.raw != nil, nil
}

func (m *memCache) SetModelList(_ context.Context, raw json.RawMessage, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
	return nil
}

func (m *memCache) InvalidateModelList(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = nil
	return nil
}

type testEnv struct {
	t      *testing.T
	router *gin.Engine
	h      *handlers.Handler
	ollama *fakeOllama
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ollama := newFakeOllama(t)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	cfg := config.Config{
		JWTSecret:       "test-secret",
		OllamaBaseURL:   ollama.URL,
		OllamaModel:     "llama3:latest",
		PersistTimeout:  5 * time.Second,
		UploadDir:       t.TempDir(),
		MaxUploadBytes:  1024,
		ModelCacheTTL:   time.Minute,
		DefaultUsername: "admin",
	}
	h, err := handlers.NewHandler(gdb, cfg, nil, nil)
	require.NoError(t, err)
	return &testEnv{t: t, router: NewRouter(h), h: h, ollama: ollama}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(username string) string {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/session", "", map[string]string{"username": username})
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Token
}

func (e *testEnv) createConversation(token string) uint64 {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/conversations", token, map[string]any{})
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		ID uint64 `json:"id"`
	}
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.ID
}

func fragment(s string) string {
	return fmt.Sprintf(`{"message":{"role":"assistant","content":%q},"done":false}`, s)
}

const doneLine = `{"message":{"role":"assistant","content":""},"done":true,"eval_count":2}`

type conversationView struct {
	Title        string `json:"title"`
	MessageCount int64  `json:"message_count"`
	Messages     []struct {
		Role        string `json:"role"`
		Content     string `json:"content"`
		Attachments []struct {
			OriginalFilename string `json:"original_filename"`
			HasText          bool   `json:"has_text"`
		} `json:"attachments"`
	} `json:"messages"`
}

func (e *testEnv) conversation(token string, id uint64) conversationView {
	e.t.Helper()
	w := e.do(http.MethodGet, fmt.Sprintf("/api/conversations/%d", id), token, nil)
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var v conversationView
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestChat_StreamsAndPersists(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")
	id := e.createConversation(token)
	e.ollama.reply(http.StatusOK, fragment("Hel"), fragment("lo!"), doneLine)

	w := e.do(http.MethodPost, "/api/chat", token, map[string]any{
		"model":           "llama3:latest",
		"message":         "Hi",
		"history":         []map[string]string{},
		"conversation_id": id,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	require.Equal(t, "{\"content\":\"Hel\"}\n{\"content\":\"lo!\"}\n", w.Body.String())

	v := e.conversation(token, id)
	require.Equal(t, "Hi", v.Title)
	require.EqualValues(t, 2, v.MessageCount)
	require.Len(t, v.Messages, 2)
	require.Equal(t, "user", v.Messages[0].Role)
	require.Equal(t, "Hello!", v.Messages[1].Content)
}

func TestChat_UpstreamStatusIsReturned(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")
	id := e.createConversation(token)
	e.ollama.reply(http.StatusServiceUnavailable, `{"error":"model not loaded"}`)

	w := e.do(http.MethodPost, "/api/chat", token, map[string]any{"model": "m", "message": "Hi", "conversation_id": id})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.JSONEq(t, `{"error":"Ollama error: model not loaded"}`, w.Body.String())

	v := e.conversation(token, id)
	require.Empty(t, v.Messages)
	require.Equal(t, "New Conversation", v.Title)
}

func TestChat_Validation(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")

	w := e.do(http.MethodPost, "/api/chat", token, map[string]any{"message": "Hi"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"model is required"}`, w.Body.String())

	w = e.do(http.MethodPost, "/api/chat", token, map[string]any{"model": "m"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/chat", "", map[string]any{"model": "m", "message": "Hi"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChat_WithoutConversationIsNotStored(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")
	e.ollama.reply(http.StatusOK, fragment("ok"), doneLine)

	w := e.do(http.MethodPost, "/api/chat", token, map[string]any{"model": "m", "message": "Hi"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "{\"content\":\"ok\"}\n", w.Body.String())

	var n int64
	require.NoError(t, e.h.DB.Table("messages").Count(&n).Error)
	require.Zero(t, n)
}

func upload(t *testing.T, e *testEnv, token, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestUploadThenChatWithAttachment(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")
	id := e.createConversation(token)

	w := upload(t, e, token, "notes.txt", []byte("alpha beta"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var desc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &desc))
	require.Equal(t, "notes.txt", desc["original_filename"])
	require.Equal(t, "text/plain", desc["mime_type"])
	require.Equal(t, true, desc["has_text"])
	require.Equal(t, "alpha beta", desc["extracted_text"])
	require.Equal(t, "10 B", desc["file_size_str"])

	served := e.do(http.MethodGet, "/api/files/"+desc["filename"].(string), token, nil)
	require.Equal(t, http.StatusOK, served.Code)
	require.Equal(t, "alpha beta", served.Body.String())

	e.ollama.reply(http.StatusOK, fragment("Noted."), doneLine)
	w = e.do(http.MethodPost, "/api/chat", token, map[string]any{
		"model":           "m",
		"message":         "Read this",
		"conversation_id": id,
		"attachments":     []any{desc},
	})
	require.Equal(t, http.StatusOK, w.Code)

	last := e.ollama.lastRequest().Messages
	require.Len(t, last, 1)
	require.Contains(t, last[0].Content, "--- ATTACHED FILES ---")
	require.Contains(t, last[0].Content, "File: notes.txt\nType: text/plain\nContent:\nalpha beta\n---\n")

	v := e.conversation(token, id)
	require.Equal(t, "Read this", v.Messages[0].Content)
	require.Len(t, v.Messages[0].Attachments, 1)
	require.Equal(t, "notes.txt", v.Messages[0].Attachments[0].OriginalFilename)
	require.True(t, v.Messages[0].Attachments[0].HasText)
}

func TestUpload_Rejects(t *testing.T) {
	e := newEnv(t)
	token := e.login("alice")

	w := upload(t, e, token, "run.exe", []byte("MZ"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "file type not allowed")

	w = upload(t, e, token, "big.txt", bytes.Repeat([]byte("a"), 2048))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"file too large: maximum size is 1 KB"}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/files/missing.txt", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	w = upload(t, e, token, "report.pdf", png)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "file content does not match its type")

	w = upload(t, e, token, "notes.txt", png)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "file content does not match its type")

	w = upload(t, e, token, "photo.png", []byte("just some text"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "is not an image")

	w = upload(t, e, token, "photo.jpg", png)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListModels_UsesCache(t *testing.T) {
	e := newEnv(t)
	e.h.Cache = &memCache{}
	token := e.login("alice")

	for i := 0; i < 3; i++ {
		w := e.do(http.MethodGet, "/api/tags", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"models":[{"name":"llama3:latest"}]}`, w.Body.String())
	}
	require.EqualValues(t, 1, e.ollama.tags.Load())

	w := e.do(http.MethodGet, "/api/tags?refresh=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, e.ollama.tags.Load())

	w = e.do(http.MethodGet, "/api/tags", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, e.ollama.tags.Load())
}

func TestConversations_CRUDAndOwnership(t *testing.T) {
	e := newEnv(t)
	alice := e.login("alice")
	bob := e.login("bob")
	id := e.createConversation(alice)
	path := fmt.Sprintf("/api/conversations/%d", id)

	w := e.do(http.MethodGet, path, bob, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodPut, path, alice, map[string]any{"title": "Renamed", "is_favorite": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var conv map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	require.Equal(t, "Renamed", conv["title"])
	require.Equal(t, "user", conv["title_source"])
	require.Equal(t, true, conv["is_favorite"])

	w = e.do(http.MethodPut, path, alice, map[string]any{"title": "  "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/api/conversations", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)

	w = e.do(http.MethodGet, "/api/conversations", bob, nil)
	require.JSONEq(t, `[]`, w.Body.String())

	w = e.do(http.MethodDelete, path, bob, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(http.MethodDelete, path, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodGet, path, alice, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodGet, "/api/conversations/abc", alice, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTagsAndProjects(t *testing.T) {
	e := newEnv(t)
	alice := e.login("alice")
	bob := e.login("bob")
	id := e.createConversation(alice)

	w := e.do(http.MethodPost, "/api/conversation-tags", alice, map[string]string{"name": "work"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tag struct {
		ID    uint64 `json:"id"`
		Color string `json:"color"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tag))
	require.Equal(t, "#6c757d", tag.Color)

	w = e.do(http.MethodPost, "/api/conversation-tags", alice, map[string]string{"name": "work"})
	require.Equal(t, http.StatusConflict, w.Code)
	w = e.do(http.MethodPost, "/api/conversation-tags", alice, map[string]string{"name": ""})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(http.MethodPost, "/api/conversation-tags", alice, map[string]string{"name": "x", "color": "blue"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	tagPath := fmt.Sprintf("/api/conversations/%d/tags", id)
	w = e.do(http.MethodPost, tagPath, alice, map[string]uint64{"tag_id": tag.ID})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	w = e.do(http.MethodPost, tagPath, bob, map[string]uint64{"tag_id": tag.ID})
	require.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(http.MethodPost, tagPath, alice, map[string]uint64{"tag_id": 999})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"Tag not found"}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/conversation-tags", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tags []struct {
		Name              string `json:"name"`
		ConversationCount int64  `json:"conversation_count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tags))
	require.Len(t, tags, 1)
	require.EqualValues(t, 1, tags[0].ConversationCount)

	w = e.do(http.MethodGet, fmt.Sprintf("/api/conversations/%d", id), alice, nil)
	require.Contains(t, w.Body.String(), `"tags":[{`)

	w = e.do(http.MethodDelete, fmt.Sprintf("%s/%d", tagPath, tag.ID), alice, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(http.MethodPost, "/api/projects", alice, map[string]string{"name": "Thesis", "description": "notes"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var project struct {
		ID    uint64 `json:"id"`
		Color string `json:"color"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))
	require.Equal(t, "#667eea", project.Color)

	convsPath := fmt.Sprintf("/api/projects/%d/conversations", project.ID)
	w = e.do(http.MethodPost, convsPath, alice, map[string]uint64{"conversation_id": id})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	w = e.do(http.MethodPost, convsPath, bob, map[string]uint64{"conversation_id": id})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"Project not found"}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/projects", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var projects []struct {
		Name              string `json:"name"`
		ConversationCount int64  `json:"conversation_count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &projects))
	require.Len(t, projects, 1)
	require.EqualValues(t, 1, projects[0].ConversationCount)

	w = e.do(http.MethodGet, "/api/projects", bob, nil)
	require.JSONEq(t, `[]`, w.Body.String())

	w = e.do(http.MethodGet, convsPath, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var convs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &convs))
	require.Len(t, convs, 1)

	w = e.do(http.MethodDelete, fmt.Sprintf("%s/%d", convsPath, id), alice, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(http.MethodDelete, fmt.Sprintf("/api/projects/%d", project.ID), alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodGet, convsPath, alice, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_DefaultUser(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Token string `json:"token"`
		User  struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	require.Equal(t, "admin", out.User.Username)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "running", out["server"])
	require.Equal(t, "connected", out["ollama"])
	require.Equal(t, "connected", out["database"])
	require.Equal(t, "1 KB", out["max_file_size"])
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"route not found"}`, w.Body.String())
}
