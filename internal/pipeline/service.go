// Package pipeline turns a user's question into a cluster of posts: the
// user's own answered question followed by related posts from persona bots.
package pipeline

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/logger"
	"github.com/kalambet/aury/internal/storage"
)

const (
	MaxQuestionRunes = 2000
	MaxTopics        = 10
)

// Request is a generate-post submission.
type Request struct {
	Question string   `json:"question"`
	Topics   []string `json:"topics,omitempty"`
}

// Normalize trims the question and topics, drops empty topics, and checks
// limits. Errors are *apierr.Error of kind ValidationError.
func (r Request) Normalize() (Request, error) {
	q := strings.TrimSpace(r.Question)
	if q == "" {
		return Request{}, apierr.Newf(apierr.ValidationError, "question is required")
	}
	if utf8.RuneCountInString(q) > MaxQuestionRunes {
		return Request{}, apierr.Newf(apierr.ValidationError, "question exceeds %d characters", MaxQuestionRunes)
	}

	topics := make([]string, 0, len(r.Topics))
	for _, t := range r.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) > MaxTopics {
		return Request{}, apierr.Newf(apierr.ValidationError, "at most %d topics allowed, got %d", MaxTopics, len(topics))
	}
	return Request{Question: q, Topics: topics}, nil
}

// Result is the aggregated outcome of one request.
type Result struct {
	UserPost storage.Post
	BotPosts []storage.Post
	Failures []BranchFailure
}

// Service runs the primary stage and then the persona fan-out.
type Service struct {
	primary *PrimaryStage
	fanout  *FanOut
	log     *logger.Logger
}

func NewService(primary *PrimaryStage, fanout *FanOut, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{primary: primary, fanout: fanout, log: log.With("component", "pipeline")}
}

// Generate validates req and produces the post cluster for owner. Any
// error before the anchor post is persisted is returned; fan-out failures
// are reported in Result.Failures only.
func (s *Service) Generate(ctx context.Context, owner storage.Profile, req Request) (Result, error) {
	req, err := req.Normalize()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	s.log.Info("generate-post request", "user_id", owner.ID, "topics", len(req.Topics))

	anchor, err := s.primary.Run(ctx, req.Question, req.Topics, owner)
	if err != nil {
		return Result{}, err
	}

	outcome := s.fanout.Run(ctx, req.Question, req.Topics, anchor, owner)

	s.log.Info("generate-post complete",
		"user_id", owner.ID,
		"anchor_post_id", anchor.ID,
		"bot_posts", len(outcome.Posts),
		"failed_personas", len(outcome.Failures),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Result{UserPost: anchor, BotPosts: outcome.Posts, Failures: outcome.Failures}, nil
}
