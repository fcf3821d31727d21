// Package api exposes the service over HTTP: turn and user ingestion,
// the reply trigger, and the admin statistics/settings surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/replybot/replybot/internal/bot"
	"github.com/replybot/replybot/internal/settings"
	"github.com/replybot/replybot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the handlers need.
type Deps struct {
	Store    *storage.Store
	Settings *settings.Service
	Bot      bot.Provider
	Token    string
}

// NewHandler returns the service's HTTP handler. Every route except
// /health requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Put("/v1/users", handlePutUser(deps))
		r.Delete("/v1/users/{id}", handleDeleteUser(deps))
		r.Post("/v1/turns", handlePostTurn(deps))
		r.Post("/v1/reply", handleReply(deps))
		r.Get("/v1/jobs/{id}", handleGetJob(deps))

		r.Get("/admin/statistics", handleStatistics(deps))
		r.Get("/admin/settings", handleGetSettings(deps))
		r.Put("/admin/settings", handlePutSettings(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type userRequest struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	GroupIDs []int64 `json:"group_ids"`
}

func handlePutUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req userRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ID == 0 || req.Username == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id and username are required")
			return
		}

		if err := deps.Store.UpsertUser(storage.User{ID: req.ID, Username: req.Username}, req.GroupIDs); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing user: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": req.ID})
	}
}

func handleDeleteUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid user id")
			return
		}
		if err := deps.Store.DeleteUser(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "user %d not found", id)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "deleting user: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type turnRequest struct {
	ID          int64      `json:"id"`
	ChannelID   int64      `json:"channel_id"`
	UserID      int64      `json:"user_id"`
	Kind        string     `json:"kind"`
	Content     string     `json:"content"`
	InReplyToID *int64     `json:"in_reply_to_id"`
	DeletedAt   *time.Time `json:"deleted_at"`
	CreatedAt   *time.Time `json:"created_at"`
}

func handlePostTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Kind != storage.TurnKindPost && req.Kind != storage.TurnKindMessage {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind must be %q or %q", storage.TurnKindPost, storage.TurnKindMessage)
			return
		}
		if req.ChannelID == 0 || req.UserID == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "channel_id and user_id are required")
			return
		}

		turn := storage.Turn{
			ID:          req.ID,
			ChannelID:   req.ChannelID,
			UserID:      req.UserID,
			Kind:        req.Kind,
			Content:     req.Content,
			InReplyToID: req.InReplyToID,
			DeletedAt:   req.DeletedAt,
		}
		if req.CreatedAt != nil {
			turn.CreatedAt = *req.CreatedAt
		}

		id, err := deps.Store.InsertTurn(turn)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing turn: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	}
}

type replyRequest struct {
	TurnID int64 `json:"turn_id"`
	UserID int64 `json:"user_id"`
	Sync   bool  `json:"sync"`
}

// replyJobPayload is what the worker unpacks when it claims a reply job.
type replyJobPayload struct {
	TurnID int64 `json:"turn_id"`
	UserID int64 `json:"user_id"`
}

func handleReply(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req replyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TurnID == 0 || req.UserID == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "turn_id and user_id are required")
			return
		}

		if req.Sync {
			text, err := deps.Bot.Reply(r.Context(), req.TurnID, req.UserID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					httpError(w, http.StatusNotFound, "not_found_error", "turn %d not found", req.TurnID)
					return
				}
				httpError(w, http.StatusInternalServerError, "api_error", "generating reply: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"reply": text})
			return
		}

		payload, err := json.Marshal(replyJobPayload{TurnID: req.TurnID, UserID: req.UserID})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "marshalling job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        "reply",
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "queueing reply job: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "job not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         job.ID,
			"type":       job.Type,
			"status":     job.Status,
			"last_error": job.LastError,
		})
	}
}

// statisticsResponse is the payload consumed by the external admin
// surface.
type statisticsResponse struct {
	TotalTokensConsumed   int64               `json:"total_tokens_consumed"`
	TotalChatInteractions int64               `json:"total_chat_interactions"`
	TotalUsersInteracted  int64               `json:"total_users_interacted"`
	TopUsers              []storage.UserUsage `json:"top_users"`
}

func handleStatistics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp statisticsResponse

		var g errgroup.Group
		g.Go(func() (err error) {
			resp.TotalTokensConsumed, err = deps.Store.TotalTokensConsumed()
			return err
		})
		g.Go(func() (err error) {
			resp.TotalChatInteractions, err = deps.Store.TotalInteractions()
			return err
		})
		g.Go(func() (err error) {
			resp.TotalUsersInteracted, err = deps.Store.TotalUsersInteracted()
			return err
		})
		g.Go(func() (err error) {
			resp.TopUsers, err = deps.Store.TopUsers(10)
			return err
		})
		if err := g.Wait(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "computing statistics: %v", err)
			return
		}

		if resp.TopUsers == nil {
			resp.TopUsers = []storage.UserUsage{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := deps.Settings.All()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	}
}

func handlePutSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key := range req {
			if !settings.ValidKey(key) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown setting %q", key)
				return
			}
		}
		for key, value := range req {
			if err := deps.Settings.Set(key, value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "storing setting %s: %v", key, err)
				return
			}
		}

		values, err := deps.Settings.All()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
