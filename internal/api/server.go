package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/logger"
	"github.com/kalambet/aury/internal/pipeline"
	"github.com/kalambet/aury/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultPageSize    = 20
	maxPageSize        = 100
)

// PostGenerator runs the generation pipeline. Implemented by pipeline.Service.
type PostGenerator interface {
	Generate(ctx context.Context, owner storage.Profile, req pipeline.Request) (pipeline.Result, error)
}

// FeedStore is the read side of the record store. Implemented by storage.Store.
type FeedStore interface {
	ListPosts(ctx context.Context, limit, offset int) ([]storage.Post, error)
	CountPosts(ctx context.Context) (int, error)
	GetPost(ctx context.Context, id string) (storage.Post, error)
	ListBotsByOwner(ctx context.Context, ownerID string) ([]storage.Bot, error)
}

type Deps struct {
	Auth      CredentialResolver
	Generator PostGenerator
	Feed      FeedStore
	Log       *logger.Logger
}

// GeneratePostResponse is the success body of POST /generate-post.
type GeneratePostResponse struct {
	Success        bool            `json:"success"`
	UserPost       storage.Post    `json:"userPost"`
	BotPosts       []storage.Post  `json:"botPosts"`
	FailedPersonas []FailedPersona `json:"failedPersonas"`
}

type FailedPersona struct {
	Persona string `json:"persona"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

type PostList struct {
	Posts  []storage.Post `json:"posts"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// NewHandler returns the HTTP API. Browser callers are allowed from any
// origin.
func NewHandler(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	log := deps.Log.With("component", "api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "apikey", "x-client-info"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Auth))
		r.Post("/generate-post", handleGeneratePost(deps, log))
		r.Get("/posts", handleListPosts(deps))
		r.Get("/posts/{id}", handleGetPost(deps))
		r.Get("/bots", handleListBots(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleGeneratePost(deps Deps, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFrom(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req pipeline.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, string(apierr.ValidationError), "invalid request body: %v", err)
			return
		}

		start := time.Now()
		res, err := deps.Generator.Generate(r.Context(), id.Profile, req)
		if err != nil {
			log.Error("generate-post failed",
				"request_id", middleware.GetReqID(r.Context()),
				"user_id", id.UserID,
				"kind", string(apierr.KindOf(err)),
				"error", err,
			)
			writeError(w, err)
			return
		}

		resp := GeneratePostResponse{
			Success:        true,
			UserPost:       res.UserPost,
			BotPosts:       res.BotPosts,
			FailedPersonas: make([]FailedPersona, 0, len(res.Failures)),
		}
		if resp.BotPosts == nil {
			resp.BotPosts = []storage.Post{}
		}
		for _, f := range res.Failures {
			resp.FailedPersonas = append(resp.FailedPersonas, FailedPersona{
				Persona: f.Persona,
				Stage:   string(f.Stage),
				Error:   string(apierr.KindOf(f.Err)),
			})
		}

		log.Info("generate-post served",
			"request_id", middleware.GetReqID(r.Context()),
			"user_post_id", res.UserPost.ID,
			"bot_posts", len(res.BotPosts),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListPosts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", defaultPageSize)
		if err != nil || limit <= 0 {
			httpError(w, http.StatusBadRequest, string(apierr.ValidationError), "limit must be a positive integer")
			return
		}
		limit = min(limit, maxPageSize)
		offset, err := queryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			httpError(w, http.StatusBadRequest, string(apierr.ValidationError), "offset must be a non-negative integer")
			return
		}

		posts, err := deps.Feed.ListPosts(r.Context(), limit, offset)
		if err != nil {
			writeError(w, apierr.New(apierr.PersistenceError, err))
			return
		}
		total, err := deps.Feed.CountPosts(r.Context())
		if err != nil {
			writeError(w, apierr.New(apierr.PersistenceError, err))
			return
		}
		if posts == nil {
			posts = []storage.Post{}
		}
		writeJSON(w, http.StatusOK, PostList{Posts: posts, Total: total, Limit: limit, Offset: offset})
	}
}

func handleGetPost(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := deps.Feed.GetPost(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "post not found")
			return
		}
		if err != nil {
			writeError(w, apierr.New(apierr.PersistenceError, err))
			return
		}
		writeJSON(w, http.StatusOK, post)
	}
}

func handleListBots(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFrom(r.Context())
		bots, err := deps.Feed.ListBotsByOwner(r.Context(), id.UserID)
		if err != nil {
			writeError(w, apierr.New(apierr.PersistenceError, err))
			return
		}
		if bots == nil {
			bots = []storage.Bot{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"bots": bots})
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
