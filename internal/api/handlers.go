// Package api provides the interview endpoint handlers for ReflectLoop.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ReflectLoop/ReflectLoop/internal/models"
	"github.com/gorilla/mux"
)

// healthHandler handles GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// startInterviewHandler handles POST /interviews
func (s *Server) startInterviewHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("startInterviewHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req models.StartInterviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("startInterviewHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.engine.BeginConversation(r.Context(), req)
	if err != nil {
		slog.Warn("startInterviewHandler begin failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Interview started", "conversationID", result.ConversationID, "language", req.Language)
	writeJSONResponse(w, http.StatusCreated, models.Success(result))
}

// answerHandler handles POST /interviews/answer
func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("answerHandler invoked", "method", r.Method, "path", r.URL.Path)

	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("answerHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.engine.SubmitResponse(r.Context(), req)
	if err != nil {
		slog.Warn("answerHandler submit failed", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// getConversationHandler handles GET /interviews/{id}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]
	slog.Debug("getConversationHandler invoked", "conversationID", conversationID)

	conv, err := s.engine.GetConversation(r.Context(), conversationID)
	if err != nil {
		slog.Warn("getConversationHandler failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// endSessionHandler handles POST /interviews/{id}/end
func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]
	slog.Debug("endSessionHandler invoked", "conversationID", conversationID)

	var req models.EndSessionRequest
	if r.Body != nil {
		// An empty body means a permanent end; decode errors on an empty
		// body are expected and ignored.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := s.engine.EndSession(r.Context(), conversationID, req.Temporary); err != nil {
		slog.Warn("endSessionHandler failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Session ended", "conversationID", conversationID, "temporary", req.Temporary)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session ended", nil))
}

// resumeSessionHandler handles POST /interviews/{id}/resume
func (s *Server) resumeSessionHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]
	slog.Debug("resumeSessionHandler invoked", "conversationID", conversationID)

	conv, err := s.engine.ResumeSession(r.Context(), conversationID)
	if err != nil {
		slog.Error("resumeSessionHandler failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	if conv == nil {
		// Completed or unknown: not resumable, but not an error either.
		writeJSONResponse(w, http.StatusOK, models.Error("Conversation is not resumable"))
		return
	}

	slog.Info("Session resumed", "conversationID", conversationID)
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// transcriptHandler handles GET /interviews/{id}/transcript
func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]
	slog.Debug("transcriptHandler invoked", "conversationID", conversationID)

	transcript, err := s.engine.Transcript(r.Context(), conversationID)
	if err != nil {
		slog.Warn("transcriptHandler failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=chat_conversation_%s.txt", conversationID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(transcript)); err != nil {
		slog.Error("transcriptHandler write failed", "error", err, "conversationID", conversationID)
	}
}
