// Package server exposes the HTTP surface: the generate endpoint plus the
// minimal character and qa-memory sync API. Identity arrives pre-resolved
// in the X-User-ID header; an upstream layer owns sessions.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koheon2/screenmate-backend/internal/apperr"
	"github.com/koheon2/screenmate-backend/internal/llm"
	"github.com/koheon2/screenmate-backend/internal/pet"
	"github.com/koheon2/screenmate-backend/internal/store"
)

// maxRequestBytes bounds a generate request; the screenshot cap is 5MiB
// and the rest of the form is small.
const maxRequestBytes = 6 << 20

type Server struct {
	pet   *pet.Service
	store *store.Engine
	http  *http.Server
}

func NewServer(addr string, petSvc *pet.Service, engine *store.Engine) *Server {
	s := &Server{pet: petSvc, store: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /llm/generate", s.handleGenerate)
	mux.HandleFunc("POST /sync/characters", s.handleCreateCharacter)
	mux.HandleFunc("GET /sync/characters/{id}", s.handleGetCharacter)
	mux.HandleFunc("GET /sync/characters/{id}/qa-memory", s.handleGetQaMemory)
	mux.HandleFunc("PATCH /sync/characters/{id}/qa-memory", s.handlePatchQaMemory)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	log.Printf("[server] listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		log.Printf("[server] shutdown error: %v", err)
	}
	log.Printf("[server] stopped")
}

// errorBody mirrors the API error contract.
type errorBody struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		log.Printf("[server] %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Error:     http.StatusText(status),
		Code:      apperr.CodeOf(err),
		Message:   apperr.MessageOf(err),
		Path:      r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

// userID resolves the caller from the X-User-ID header.
func userID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if raw == "" {
		return uuid.Nil, apperr.Unauthorized("MISSING_USER_ID", "X-User-ID header is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("INVALID_USER_ID", "X-User-ID header must be a UUID")
	}
	return id, nil
}

func pathCharacterID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("INVALID_CHARACTER_ID", "Character id must be a UUID")
	}
	return id, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in, err := parseGenerateRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.UserID = uid

	res, err := s.pet.Generate(r.Context(), *in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseGenerateRequest accepts either a multipart form (with an optional
// screenshot part) or a plain JSON body.
func parseGenerateRequest(r *http.Request) (*pet.GenerateInput, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return parseMultipartGenerate(r)
	}

	var body struct {
		CharacterID string `json:"characterId"`
		UserMessage string `json:"userMessage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apperr.BadRequest("INVALID_REQUEST_BODY", "Request body must be valid JSON")
	}
	characterID, err := uuid.Parse(body.CharacterID)
	if err != nil {
		return nil, apperr.BadRequest("INVALID_CHARACTER_ID", "characterId must be a UUID")
	}
	return &pet.GenerateInput{CharacterID: characterID, UserMessage: body.UserMessage}, nil
}

func parseMultipartGenerate(r *http.Request) (*pet.GenerateInput, error) {
	if err := r.ParseMultipartForm(maxRequestBytes); err != nil {
		return nil, apperr.BadRequest("INVALID_REQUEST_BODY", "Malformed multipart form")
	}
	characterID, err := uuid.Parse(r.FormValue("characterId"))
	if err != nil {
		return nil, apperr.BadRequest("INVALID_CHARACTER_ID", "characterId must be a UUID")
	}

	in := &pet.GenerateInput{
		CharacterID: characterID,
		UserMessage: r.FormValue("userMessage"),
	}

	file, header, err := r.FormFile("screenshot")
	if err == http.ErrMissingFile {
		return in, nil
	}
	if err != nil {
		return nil, apperr.BadRequest("INVALID_REQUEST_BODY", "Malformed screenshot part")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.BadRequest("INVALID_REQUEST_BODY", "Could not read screenshot part")
	}
	in.Screenshot = &llm.ScreenshotUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return in, nil
}

type characterBody struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Species       string  `json:"species"`
	Personality   string  `json:"personality,omitempty"`
	StageIndex    int     `json:"stageIndex"`
	Happiness     int     `json:"happiness"`
	Hunger        int     `json:"hunger"`
	Health        int     `json:"health"`
	IntimacyScore float64 `json:"intimacyScore"`
}

func characterToBody(ch *store.Character) characterBody {
	return characterBody{
		ID:            ch.ID.String(),
		Name:          ch.Name,
		Species:       ch.Species,
		Personality:   ch.Personality,
		StageIndex:    ch.StageIndex,
		Happiness:     ch.Happiness,
		Hunger:        ch.Hunger,
		Health:        ch.Health,
		IntimacyScore: ch.IntimacyScore,
	}
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body struct {
		Name          string  `json:"name"`
		Species       string  `json:"species"`
		Personality   string  `json:"personality"`
		StageIndex    int     `json:"stageIndex"`
		Happiness     int     `json:"happiness"`
		Hunger        int     `json:"hunger"`
		Health        int     `json:"health"`
		IntimacyScore float64 `json:"intimacyScore"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apperr.BadRequest("INVALID_REQUEST_BODY", "Request body must be valid JSON"))
		return
	}
	if strings.TrimSpace(body.Name) == "" || strings.TrimSpace(body.Species) == "" {
		writeError(w, r, apperr.BadRequest("INVALID_CHARACTER", "name and species are required"))
		return
	}

	ch := &store.Character{
		UserID:        uid,
		Name:          body.Name,
		Species:       body.Species,
		Personality:   body.Personality,
		StageIndex:    body.StageIndex,
		Happiness:     body.Happiness,
		Hunger:        body.Hunger,
		Health:        body.Health,
		IntimacyScore: body.IntimacyScore,
	}
	if err := s.store.CreateCharacter(r.Context(), ch); err != nil {
		writeError(w, r, fmt.Errorf("create character: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, characterToBody(ch))
}

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	characterID, err := pathCharacterID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ch, err := s.store.GetCharacterForUser(r.Context(), characterID, uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, characterToBody(ch))
}

type qaMemoryBody struct {
	QaData  map[string]string `json:"qaData"`
	Version int64             `json:"version"`
}

func (s *Server) handleGetQaMemory(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	characterID, err := pathCharacterID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.store.GetCharacterForUser(r.Context(), characterID, uid); err != nil {
		writeError(w, r, err)
		return
	}

	data, version, err := s.store.LoadMemory(r.Context(), characterID)
	if err != nil {
		writeError(w, r, fmt.Errorf("load qa memory: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, qaMemoryBody{QaData: data, Version: version})
}

func (s *Server) handlePatchQaMemory(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	characterID, err := pathCharacterID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.store.GetCharacterForUser(r.Context(), characterID, uid); err != nil {
		writeError(w, r, err)
		return
	}

	var body struct {
		ExpectedVersion int64              `json:"expectedVersion"`
		QaPatch         map[string]*string `json:"qaPatch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apperr.BadRequest("INVALID_REQUEST_BODY", "Request body must be valid JSON"))
		return
	}
	if len(body.QaPatch) == 0 {
		writeError(w, r, apperr.BadRequest("EMPTY_QA_PATCH", "qaPatch must contain at least one entry"))
		return
	}
	if err := store.ValidateQaPatch(body.QaPatch); err != nil {
		writeError(w, r, err)
		return
	}

	data, version, err := s.store.PatchMemoryWithVersion(r.Context(), characterID, body.ExpectedVersion, body.QaPatch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qaMemoryBody{QaData: data, Version: version})
}
