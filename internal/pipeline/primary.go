package pipeline

import (
	"context"
	"fmt"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/logger"
	"github.com/kalambet/aury/internal/storage"
)

// Generator produces a completion for a system instruction and user message.
// Implemented by generation.Client.
type Generator interface {
	Generate(ctx context.Context, systemInstruction, userMessage string) (string, error)
}

// PostStore persists posts. Implemented by storage.Store.
type PostStore interface {
	CreatePost(ctx context.Context, p storage.Post) (storage.Post, error)
}

// PrimaryStage answers the user's own question and publishes it as the
// anchor post of the request.
type PrimaryStage struct {
	gen   Generator
	posts PostStore
	log   *logger.Logger
}

func NewPrimaryStage(gen Generator, posts PostStore, log *logger.Logger) *PrimaryStage {
	if log == nil {
		log = logger.Nop()
	}
	return &PrimaryStage{gen: gen, posts: posts, log: log.With("component", "primary_stage")}
}

// Run generates the primary answer and persists it authored by owner.
// Nothing is persisted when generation fails. Errors are *apierr.Error of
// kind GenerationError or PersistenceError.
func (s *PrimaryStage) Run(ctx context.Context, question string, topics []string, owner storage.Profile) (storage.Post, error) {
	answer, err := s.gen.Generate(ctx, primarySystemPrompt, question)
	if err != nil {
		s.log.Error("primary answer generation failed", "user_id", owner.ID, "error", err)
		return storage.Post{}, apierr.New(apierr.GenerationError, fmt.Errorf("generating primary answer: %w", err))
	}

	if topics == nil {
		topics = []string{}
	}
	post, err := s.posts.CreatePost(ctx, storage.Post{
		Title:    question,
		Content:  answer,
		Topics:   topics,
		IsBot:    false,
		AuthorID: owner.ID,
	})
	if err != nil {
		s.log.Error("persisting primary post failed", "user_id", owner.ID, "error", err)
		return storage.Post{}, apierr.New(apierr.PersistenceError, fmt.Errorf("persisting primary post: %w", err))
	}

	s.log.Info("primary post created", "post_id", post.ID, "user_id", owner.ID)
	return post, nil
}
