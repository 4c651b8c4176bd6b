package pipeline

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/logger"
	"github.com/kalambet/aury/internal/persona"
	"github.com/kalambet/aury/internal/storage"
)

// BotResolver maps an owner and persona to a bot. Implemented by persona.Registry.
type BotResolver interface {
	Resolve(ctx context.Context, ownerHandle, personaKey, ownerUserID string) (storage.Bot, error)
}

// Stage names the step at which a persona branch was abandoned.
type Stage string

const (
	StageRegistration Stage = "registration"
	StageDerive       Stage = "derive_question"
	StageAnswer       Stage = "answer"
	StagePersist      Stage = "persist"
)

// BranchFailure records one abandoned persona branch.
type BranchFailure struct {
	Persona string
	Stage   Stage
	Err     error
}

func (f BranchFailure) Error() string {
	return fmt.Sprintf("persona %s failed at %s: %v", f.Persona, f.Stage, f.Err)
}

// Outcome is the result of a fan-out. Posts follow selection order and
// omit failed branches.
type Outcome struct {
	Posts    []storage.Post
	Failures []BranchFailure
}

// BotMetadata is stored on every persona post.
type BotMetadata struct {
	TriggeredBy      string `json:"triggered_by"`
	OriginalQuestion string `json:"original_question"`
	AnchorPostID     string `json:"anchor_post_id"`
	Persona          string `json:"persona"`
}

// FanOutOptions configures a FanOut. Zero values fall back to the
// built-in persona set and a parallelism of 4.
type FanOutOptions struct {
	Personas    []string
	Parallelism int
}

// FanOut runs one independent sub-pipeline per selected persona. A branch
// failure is recorded and never affects its siblings or the caller.
type FanOut struct {
	registry BotResolver
	gen      Generator
	posts    PostStore
	selector persona.Selector
	keys     []string
	limit    int
	log      *logger.Logger
}

func NewFanOut(registry BotResolver, gen Generator, posts PostStore, selector persona.Selector, opts FanOutOptions, log *logger.Logger) *FanOut {
	if log == nil {
		log = logger.Nop()
	}
	keys := opts.Personas
	if len(keys) == 0 {
		keys = persona.DefaultKeys
	}
	limit := opts.Parallelism
	if limit <= 0 {
		limit = 4
	}
	return &FanOut{
		registry: registry,
		gen:      gen,
		posts:    posts,
		selector: selector,
		keys:     keys,
		limit:    limit,
		log:      log.With("component", "fanout"),
	}
}

// Run selects personas and executes their branches concurrently.
// Cancelling ctx aborts in-flight branches, which then count as failures.
func (f *FanOut) Run(ctx context.Context, question string, topics []string, anchor storage.Post, owner storage.Profile) Outcome {
	selected := f.selector.Select(f.keys)
	if len(selected) == 0 {
		return Outcome{Posts: []storage.Post{}}
	}
	if topics == nil {
		topics = []string{}
	}

	start := time.Now()
	slots := make([]*storage.Post, len(selected))
	var (
		mu       sync.Mutex
		failures []BranchFailure
	)

	// Branches report through slots and failures, so Wait never returns an
	// error and one branch cannot cancel another.
	var g errgroup.Group
	g.SetLimit(f.limit)
	for i, key := range selected {
		g.Go(func() error {
			post, stage, err := f.runBranch(ctx, key, question, topics, anchor, owner)
			if err != nil {
				f.log.Warn("persona branch abandoned",
					"persona", key,
					"stage", string(stage),
					"anchor_post_id", anchor.ID,
					"error", err,
				)
				mu.Lock()
				failures = append(failures, BranchFailure{Persona: key, Stage: stage, Err: err})
				mu.Unlock()
				return nil
			}
			slots[i] = &post
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Posts: make([]storage.Post, 0, len(selected)), Failures: failures}
	for _, p := range slots {
		if p != nil {
			out.Posts = append(out.Posts, *p)
		}
	}
	sortFailures(out.Failures, selected)

	f.log.Info("fan-out complete",
		"anchor_post_id", anchor.ID,
		"selected", len(selected),
		"created", len(out.Posts),
		"failed", len(out.Failures),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// runBranch walks one persona through registration, question derivation,
// answering, and persistence. No step is retried.
func (f *FanOut) runBranch(ctx context.Context, key, question string, topics []string, anchor storage.Post, owner storage.Profile) (storage.Post, Stage, error) {
	bot, err := f.registry.Resolve(ctx, owner.Handle, key, owner.ID)
	if err != nil {
		return storage.Post{}, StageRegistration, err
	}

	system, user := derivePrompt(key, question)
	raw, err := f.gen.Generate(ctx, system, user)
	if err != nil {
		return storage.Post{}, StageDerive, apierr.New(apierr.GenerationError, err)
	}
	derived := cleanDerivedQuestion(raw)
	if derived == "" {
		return storage.Post{}, StageDerive, apierr.New(apierr.GenerationError, errors.New("derived question is empty"))
	}
	if strings.EqualFold(derived, strings.TrimSpace(question)) {
		return storage.Post{}, StageDerive, apierr.New(apierr.GenerationError, errors.New("derived question repeats the original"))
	}

	answer, err := f.gen.Generate(ctx, personaAnswerPrompt(key), derived)
	if err != nil {
		return storage.Post{}, StageAnswer, apierr.New(apierr.GenerationError, err)
	}

	meta, err := json.Marshal(BotMetadata{
		TriggeredBy:      owner.ID,
		OriginalQuestion: question,
		AnchorPostID:     anchor.ID,
		Persona:          key,
	})
	if err != nil {
		return storage.Post{}, StagePersist, apierr.New(apierr.PersistenceError, fmt.Errorf("encoding metadata: %w", err))
	}

	post, err := f.posts.CreatePost(ctx, storage.Post{
		Title:    derived,
		Content:  answer,
		Topics:   topics,
		IsBot:    true,
		BotID:    bot.ID,
		Metadata: meta,
	})
	if err != nil {
		return storage.Post{}, StagePersist, apierr.New(apierr.PersistenceError, err)
	}
	f.log.Debug("persona post created", "persona", key, "bot_handle", bot.Handle, "post_id", post.ID)
	return post, "", nil
}

// sortFailures orders failures by the position of their persona in selected.
func sortFailures(failures []BranchFailure, selected []string) {
	pos := make(map[string]int, len(selected))
	for i, k := range selected {
		pos[k] = i
	}
	slices.SortFunc(failures, func(a, b BranchFailure) int {
		return cmp.Compare(pos[a.Persona], pos[b.Persona])
	})
}
