package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koheon2/screenmate-backend/internal/config"
	"github.com/koheon2/screenmate-backend/internal/llm"
	"github.com/koheon2/screenmate-backend/internal/pet"
	"github.com/koheon2/screenmate-backend/internal/ratelimit"
	"github.com/koheon2/screenmate-backend/internal/store"
)

type scriptedClient struct {
	reqs  []llm.CompletionRequest
	reply func(req llm.CompletionRequest) (string, error)
}

func (c *scriptedClient) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	c.reqs = append(c.reqs, req)
	return c.reply(req)
}

func okReply(t *testing.T, inner string) func(llm.CompletionRequest) (string, error) {
	t.Helper()
	return func(llm.CompletionRequest) (string, error) {
		encoded, err := json.Marshal(inner)
		if err != nil {
			t.Fatalf("marshal inner: %v", err)
		}
		return fmt.Sprintf(`{"choices":[{"message":{"content":%s}}]}`, encoded), nil
	}
}

type testEnv struct {
	server *Server
	engine *store.Engine
	client *scriptedClient
	userID uuid.UUID
}

func newTestEnv(t *testing.T, rpm int) *testEnv {
	t.Helper()
	engine, err := store.NewEngine(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	client := &scriptedClient{reply: okReply(t, `{"message":"hi there","emotion":"happy"}`)}
	limiter := ratelimit.NewLimiter(rpm, time.Minute)
	petSvc := pet.NewService(engine, client, limiter, config.ChatConfig{
		MaxTokens:          3000,
		ConversationWindow: 20,
		IntimacyDailyCap:   30,
		AllowedActions:     config.DefaultAllowedActions,
	})

	return &testEnv{
		server: NewServer("127.0.0.1:0", petSvc, engine),
		engine: engine,
		client: client,
		userID: uuid.New(),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", e.userID.String())
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedCharacter(t *testing.T) uuid.UUID {
	t.Helper()
	ch := &store.Character{UserID: e.userID, Name: "Mochi", Species: "cat", IntimacyScore: 45}
	if err := e.engine.CreateCharacter(context.Background(), ch); err != nil {
		t.Fatalf("CreateCharacter: %v", err)
	}
	return ch.ID
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 60)
	rec := env.do(t, http.MethodGet, "/healthz", nil, func(r *http.Request) {
		r.Header.Del("X-User-ID") // health does not need identity
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMissingUserID(t *testing.T) {
	env := newTestEnv(t, 60)
	rec := env.do(t, http.MethodPost, "/llm/generate",
		map[string]string{"characterId": uuid.NewString(), "userMessage": "hi"},
		func(r *http.Request) { r.Header.Del("X-User-ID") })

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Code != "MISSING_USER_ID" || body.Status != 401 || body.Path != "/llm/generate" {
		t.Errorf("error body = %+v", body)
	}
}

func TestCharacterLifecycle(t *testing.T) {
	env := newTestEnv(t, 60)

	rec := env.do(t, http.MethodPost, "/sync/characters", map[string]any{
		"name": "Mochi", "species": "cat", "happiness": 70,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[characterBody](t, rec)
	if created.Name != "Mochi" || created.Happiness != 70 {
		t.Errorf("created = %+v", created)
	}

	rec = env.do(t, http.MethodGet, "/sync/characters/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Another user cannot see it, and cannot tell it exists.
	rec = env.do(t, http.MethodGet, "/sync/characters/"+created.ID, nil, func(r *http.Request) {
		r.Header.Set("X-User-ID", uuid.NewString())
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign get status = %d, want 404", rec.Code)
	}
	if decodeBody[errorBody](t, rec).Code != "CHARACTER_NOT_FOUND" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCreateCharacter_Validation(t *testing.T) {
	env := newTestEnv(t, 60)
	rec := env.do(t, http.MethodPost, "/sync/characters", map[string]any{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerate_JSONBody(t *testing.T) {
	env := newTestEnv(t, 60)
	characterID := env.seedCharacter(t)

	rec := env.do(t, http.MethodPost, "/llm/generate", map[string]string{
		"characterId": characterID.String(),
		"userMessage": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[pet.GenerateResult](t, rec)
	if res.Message != "hi there" || res.Emotion != "happy" {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerate_Multipart(t *testing.T) {
	env := newTestEnv(t, 60)
	characterID := env.seedCharacter(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("characterId", characterID.String()); err != nil {
		t.Fatal(err)
	}
	if err := form.WriteField("userMessage", "look at my screen"); err != nil {
		t.Fatal(err)
	}
	part, err := form.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="screenshot"; filename="shot.png"`},
		"Content-Type":        {"image/png"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("fake png")); err != nil {
		t.Fatal(err)
	}
	form.Close()

	req := httptest.NewRequest(http.MethodPost, "/llm/generate", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-User-ID", env.userID.String())
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.client.reqs) != 1 {
		t.Fatalf("completion calls = %d", len(env.client.reqs))
	}
	parts, ok := env.client.reqs[0].Messages[1].Content.([]llm.ContentPart)
	if !ok || len(parts) != 2 || parts[1].Type != "image_url" {
		t.Errorf("user content = %+v", env.client.reqs[0].Messages[1].Content)
	}
}

func TestGenerate_RateLimited(t *testing.T) {
	env := newTestEnv(t, 1)
	characterID := env.seedCharacter(t)
	body := map[string]string{"characterId": characterID.String(), "userMessage": "hi"}

	if rec := env.do(t, http.MethodPost, "/llm/generate", body); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/llm/generate", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if decodeBody[errorBody](t, rec).Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestQaMemory_GetAndPatch(t *testing.T) {
	env := newTestEnv(t, 60)
	characterID := env.seedCharacter(t)
	base := "/sync/characters/" + characterID.String() + "/qa-memory"

	rec := env.do(t, http.MethodGet, base, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	mem := decodeBody[qaMemoryBody](t, rec)
	if mem.Version != 0 || len(mem.QaData) != 0 {
		t.Errorf("fresh memory = %+v", mem)
	}

	rec = env.do(t, http.MethodPatch, base, map[string]any{
		"expectedVersion": 0,
		"qaPatch":         map[string]any{"user_name": "Alex"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body.String())
	}
	mem = decodeBody[qaMemoryBody](t, rec)
	if mem.Version != 1 || mem.QaData["user_name"] != "Alex" {
		t.Errorf("patched memory = %+v", mem)
	}

	// Re-sending the stale version conflicts.
	rec = env.do(t, http.MethodPatch, base, map[string]any{
		"expectedVersion": 0,
		"qaPatch":         map[string]any{"user_name": "Sam"},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale patch status = %d, want 409", rec.Code)
	}
	if decodeBody[errorBody](t, rec).Code != "VERSION_CONFLICT" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestQaMemory_PatchValidation(t *testing.T) {
	env := newTestEnv(t, 60)
	characterID := env.seedCharacter(t)
	base := "/sync/characters/" + characterID.String() + "/qa-memory"

	rec := env.do(t, http.MethodPatch, base, map[string]any{
		"expectedVersion": 0,
		"qaPatch":         map[string]any{"bogus_key": "x"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if decodeBody[errorBody](t, rec).Code != "INVALID_QA_KEY_PREFIX" {
		t.Errorf("body = %s", rec.Body.String())
	}

	// The reserved summary key is not writable from outside.
	rec = env.do(t, http.MethodPatch, base, map[string]any{
		"expectedVersion": 0,
		"qaPatch":         map[string]any{"conversation_summary": "forged"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("summary patch status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPatch, base, map[string]any{"expectedVersion": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty patch status = %d, want 400", rec.Code)
	}
}

func TestQaMemory_ForeignCharacter(t *testing.T) {
	env := newTestEnv(t, 60)
	characterID := env.seedCharacter(t)
	base := "/sync/characters/" + characterID.String() + "/qa-memory"

	rec := env.do(t, http.MethodGet, base, nil, func(r *http.Request) {
		r.Header.Set("X-User-ID", uuid.NewString())
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
