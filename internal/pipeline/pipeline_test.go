package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/generation"
	"github.com/kalambet/aury/internal/logger"
	"github.com/kalambet/aury/internal/persona"
	"github.com/kalambet/aury/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	system, user string
}

// mockGenerator answers based on the prompt it receives.
type mockGenerator struct {
	fn func(system, user string) (string, error)

	mu    sync.Mutex
	calls []call
}

func (g *mockGenerator) Generate(_ context.Context, system, user string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, call{system, user})
	g.mu.Unlock()
	return g.fn(system, user)
}

func (g *mockGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// echoGenerator returns a predictable reply for every prompt kind.
func echoGenerator() *mockGenerator {
	return &mockGenerator{fn: func(system, user string) (string, error) {
		switch {
		case system == primarySystemPrompt:
			return "Primary answer to " + user, nil
		case strings.Contains(system, "content specialist"):
			p := personaOf(system)
			return `  "What does ` + p + ` say?"` + "\n", nil
		default:
			return "Answer: " + user, nil
		}
	}}
}

// personaOf extracts the persona key from a derive or answer prompt.
func personaOf(system string) string {
	for _, k := range persona.DefaultKeys {
		if strings.Contains(system, k+"-focused") {
			return k
		}
	}
	return ""
}

type fixture struct {
	store *storage.Store
	alice storage.Profile
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	alice, err := s.CreateProfile(context.Background(), storage.Profile{Username: "Alice", Handle: "alice"})
	require.NoError(t, err)
	return fixture{store: s, alice: alice}
}

func (f fixture) service(gen Generator, sel persona.Selector) *Service {
	log := logger.Nop()
	return NewService(
		NewPrimaryStage(gen, f.store, log),
		NewFanOut(persona.NewRegistry(f.store, log), gen, f.store, sel, FanOutOptions{}, log),
		log,
	)
}

func TestGenerate_HappyPath(t *testing.T) {
	f := newFixture(t)
	gen := echoGenerator()
	svc := f.service(gen, persona.Fixed{"tech", "health"})

	res, err := svc.Generate(context.Background(), f.alice, Request{
		Question: "  What are the benefits of exercise?  ",
		Topics:   []string{"Health", " ", "Fitness "},
	})
	require.NoError(t, err)

	// Anchor post.
	assert.Equal(t, "What are the benefits of exercise?", res.UserPost.Title)
	assert.Equal(t, "Primary answer to What are the benefits of exercise?", res.UserPost.Content)
	assert.Equal(t, []string{"Health", "Fitness"}, res.UserPost.Topics)
	assert.False(t, res.UserPost.IsBot)
	assert.Equal(t, f.alice.ID, res.UserPost.AuthorID)

	// Persona posts in selection order.
	require.Len(t, res.BotPosts, 2)
	assert.Empty(t, res.Failures)
	for i, key := range []string{"tech", "health"} {
		p := res.BotPosts[i]
		assert.True(t, p.IsBot)
		assert.Empty(t, p.AuthorID)
		assert.Equal(t, "What does "+key+" say?", p.Title, "derived question is trimmed and unquoted")
		assert.Equal(t, "Answer: What does "+key+" say?", p.Content)
		assert.Equal(t, []string{"Health", "Fitness"}, p.Topics)

		var meta BotMetadata
		require.NoError(t, json.Unmarshal(p.Metadata, &meta))
		assert.Equal(t, BotMetadata{
			TriggeredBy:      f.alice.ID,
			OriginalQuestion: "What are the benefits of exercise?",
			AnchorPostID:     res.UserPost.ID,
			Persona:          key,
		}, meta)

		bot, err := f.store.GetBot(context.Background(), p.BotID)
		require.NoError(t, err)
		assert.Equal(t, "alice_aury_"+key, bot.Handle)
		assert.Equal(t, key, bot.PersonaType)
	}

	n, err := f.store.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 5, gen.callCount())
}

func TestGenerate_PromptsSentToGenerator(t *testing.T) {
	f := newFixture(t)
	gen := echoGenerator()
	_, err := f.service(gen, persona.Fixed{"culture"}).Generate(context.Background(), f.alice, Request{Question: "Why jazz?"})
	require.NoError(t, err)

	require.Len(t, gen.calls, 3)
	assert.Equal(t, call{primarySystemPrompt, "Why jazz?"}, gen.calls[0])
	assert.Equal(t, call{
		"You are a culture-focused content specialist. Generate a related but different question about Why jazz?. Return ONLY the question, nothing else.",
		"Generate a related question about: Why jazz?",
	}, gen.calls[1])
	assert.Equal(t, call{
		"You are Aury, a culture-focused AI. Provide an insightful, engaging answer. Keep it maximum 100 words.",
		"What does culture say?",
	}, gen.calls[2])
}

func TestGenerate_PrimaryFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	gen := &mockGenerator{fn: func(string, string) (string, error) {
		return "", &generation.Error{Status: 500, Detail: "upstream down"}
	}}

	_, err := f.service(gen, persona.Fixed{"tech", "health"}).Generate(context.Background(), f.alice, Request{Question: "q?"})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.GenerationError), "err = %v", err)

	var genErr *generation.Error
	assert.True(t, errors.As(err, &genErr))

	n, err := f.store.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, gen.callCount(), "fan-out must not start")
}

func TestGenerate_OneBranchFails(t *testing.T) {
	f := newFixture(t)
	base := echoGenerator()
	gen := &mockGenerator{fn: func(system, user string) (string, error) {
		if strings.Contains(system, "health-focused") && strings.Contains(system, "Provide an insightful") {
			return "", &generation.Error{Status: 502}
		}
		return base.fn(system, user)
	}}

	res, err := f.service(gen, persona.Fixed{"tech", "health", "business"}).Generate(context.Background(), f.alice, Request{Question: "q?"})
	require.NoError(t, err)

	require.Len(t, res.BotPosts, 2)
	assert.Equal(t, "What does tech say?", res.BotPosts[0].Title)
	assert.Equal(t, "What does business say?", res.BotPosts[1].Title)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "health", res.Failures[0].Persona)
	assert.Equal(t, StageAnswer, res.Failures[0].Stage)
	assert.True(t, apierr.Is(res.Failures[0].Err, apierr.GenerationError))
}

func TestGenerate_AllPersonaCallsFail(t *testing.T) {
	f := newFixture(t)
	gen := &mockGenerator{fn: func(system, user string) (string, error) {
		if system == primarySystemPrompt {
			return "primary", nil
		}
		return "", &generation.Error{Status: 500}
	}}

	res, err := f.service(gen, persona.Fixed{"tech", "health", "business", "culture"}).Generate(context.Background(), f.alice, Request{Question: "q?"})
	require.NoError(t, err)

	assert.Equal(t, "primary", res.UserPost.Content)
	assert.Empty(t, res.BotPosts)
	require.Len(t, res.Failures, 4)
	for i, key := range []string{"tech", "health", "business", "culture"} {
		assert.Equal(t, key, res.Failures[i].Persona, "failures follow selection order")
		assert.Equal(t, StageDerive, res.Failures[i].Stage)
	}

	n, err := f.store.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGenerate_EmptyDerivedQuestion(t *testing.T) {
	f := newFixture(t)
	gen := &mockGenerator{fn: func(system, user string) (string, error) {
		if strings.Contains(system, "content specialist") {
			return ` "" `, nil
		}
		return "ok", nil
	}}

	res, err := f.service(gen, persona.Fixed{"tech"}).Generate(context.Background(), f.alice, Request{Question: "q?"})
	require.NoError(t, err)
	assert.Empty(t, res.BotPosts)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, StageDerive, res.Failures[0].Stage)
	assert.Equal(t, 2, gen.callCount(), "answer step must not run")
}

func TestGenerate_DerivedQuestionRepeatsOriginal(t *testing.T) {
	f := newFixture(t)
	gen := &mockGenerator{fn: func(system, user string) (string, error) {
		switch {
		case strings.Contains(system, "tech-focused content specialist"):
			return `"WHY IS THE SKY BLUE?"`, nil
		case strings.Contains(system, "content specialist"):
			return "Why do sunsets look red?", nil
		}
		return "ok", nil
	}}

	res, err := f.service(gen, persona.Fixed{"tech", "culture"}).Generate(context.Background(), f.alice, Request{Question: "Why is the sky blue?"})
	require.NoError(t, err)
	require.Len(t, res.BotPosts, 1)
	assert.Equal(t, "Why do sunsets look red?", res.BotPosts[0].Title)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "tech", res.Failures[0].Persona)
	assert.Equal(t, StageDerive, res.Failures[0].Stage)
	assert.True(t, apierr.Is(res.Failures[0].Err, apierr.GenerationError))
}

func TestGenerate_ReusesExistingBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing, err := f.store.CreateBot(ctx, storage.Bot{
		Name: "Aury Tech", Handle: "alice_aury_tech", PersonaType: "tech", CreatedByUserID: f.alice.ID, Active: true,
	})
	require.NoError(t, err)

	res, err := f.service(echoGenerator(), persona.Fixed{"tech", "culture"}).Generate(ctx, f.alice, Request{Question: "q?"})
	require.NoError(t, err)
	require.Len(t, res.BotPosts, 2)
	assert.Equal(t, existing.ID, res.BotPosts[0].BotID)

	bots, err := f.store.ListBotsByOwner(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, bots, 2, "only the culture bot is new")
}

func TestGenerate_RepeatedRequestsReuseBots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(echoGenerator(), persona.Fixed{"tech", "health"})

	for range 3 {
		_, err := svc.Generate(ctx, f.alice, Request{Question: "q?"})
		require.NoError(t, err)
	}
	bots, err := f.store.ListBotsByOwner(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, bots, 2)
}

func TestGenerate_RandomSelectionWithinBounds(t *testing.T) {
	f := newFixture(t)
	svc := f.service(echoGenerator(), persona.NewSeededSelector(2, 4, 11, 13))

	for range 20 {
		res, err := svc.Generate(context.Background(), f.alice, Request{Question: "q?"})
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(res.BotPosts), 2)
		require.LessOrEqual(t, len(res.BotPosts), 4)

		seen := map[string]bool{}
		for _, p := range res.BotPosts {
			require.False(t, seen[p.BotID], "duplicate persona in one request")
			seen[p.BotID] = true
		}
	}
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t)
	gen := echoGenerator()
	svc := f.service(gen, persona.Fixed{"tech"})

	tests := []struct {
		name string
		req  Request
	}{
		{"empty question", Request{Question: ""}},
		{"blank question", Request{Question: " \n\t"}},
		{"question too long", Request{Question: strings.Repeat("é", MaxQuestionRunes+1)}},
		{"too many topics", Request{Question: "q?", Topics: strings.Split("a,b,c,d,e,f,g,h,i,j,k", ",")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Generate(context.Background(), f.alice, tt.req)
			assert.True(t, apierr.Is(err, apierr.ValidationError), "err = %v", err)
		})
	}
	assert.Zero(t, gen.callCount())
}

func TestNormalize_BoundaryValues(t *testing.T) {
	req, err := Request{Question: strings.Repeat("x", MaxQuestionRunes), Topics: []string{"", " a ", "b", "", "", "c", "d", "e", "f", "g", "h", "i", "j"}}.Normalize()
	require.NoError(t, err)
	assert.Len(t, req.Topics, MaxTopics)
	assert.Equal(t, "a", req.Topics[0])

	req, err = Request{Question: "q"}.Normalize()
	require.NoError(t, err)
	assert.NotNil(t, req.Topics)
	assert.Empty(t, req.Topics)
}

func TestFanOut_ParallelismBound(t *testing.T) {
	f := newFixture(t)
	var inFlight, peak atomic.Int32
	gen := &mockGenerator{fn: func(system, user string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return "answer", nil
	}}

	fo := NewFanOut(persona.NewRegistry(f.store, nil), gen, f.store, persona.Fixed(persona.DefaultKeys), FanOutOptions{Parallelism: 2}, nil)
	out := fo.Run(context.Background(), "q?", nil, storage.Post{ID: "anchor"}, f.alice)

	assert.Len(t, out.Posts, 4)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFanOut_BranchesRunConcurrently(t *testing.T) {
	f := newFixture(t)
	// Every derive call waits until all four branches have reached it.
	var arrived sync.WaitGroup
	arrived.Add(4)
	gen := &mockGenerator{fn: func(system, user string) (string, error) {
		if strings.Contains(system, "content specialist") {
			arrived.Done()
			arrived.Wait()
		}
		return "text", nil
	}}

	fo := NewFanOut(persona.NewRegistry(f.store, nil), gen, f.store, persona.Fixed(persona.DefaultKeys), FanOutOptions{Parallelism: 4}, nil)

	done := make(chan Outcome)
	go func() { done <- fo.Run(context.Background(), "q?", nil, storage.Post{ID: "anchor"}, f.alice) }()

	select {
	case out := <-done:
		assert.Len(t, out.Posts, 4)
	case <-time.After(5 * time.Second):
		t.Fatal("branches did not run concurrently")
	}
}

func TestFanOut_RegistrationFailureIsolated(t *testing.T) {
	f := newFixture(t)
	reg := registryFunc(func(ctx context.Context, ownerHandle, key, ownerID string) (storage.Bot, error) {
		if key == "business" {
			return storage.Bot{}, apierr.Newf(apierr.RegistrationError, "boom")
		}
		return persona.NewRegistry(f.store, nil).Resolve(ctx, ownerHandle, key, ownerID)
	})

	fo := NewFanOut(reg, echoGenerator(), f.store, persona.Fixed{"tech", "business"}, FanOutOptions{}, nil)
	out := fo.Run(context.Background(), "q?", nil, storage.Post{ID: "anchor"}, f.alice)

	require.Len(t, out.Posts, 1)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, StageRegistration, out.Failures[0].Stage)
	assert.True(t, apierr.Is(out.Failures[0].Err, apierr.RegistrationError))
}

func TestFanOut_PersistFailure(t *testing.T) {
	f := newFixture(t)
	posts := postStoreFunc(func(context.Context, storage.Post) (storage.Post, error) {
		return storage.Post{}, errors.New("database is locked")
	})

	fo := NewFanOut(persona.NewRegistry(f.store, nil), echoGenerator(), posts, persona.Fixed{"tech"}, FanOutOptions{}, nil)
	out := fo.Run(context.Background(), "q?", nil, storage.Post{ID: "anchor"}, f.alice)

	assert.Empty(t, out.Posts)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, StagePersist, out.Failures[0].Stage)
	assert.True(t, apierr.Is(out.Failures[0].Err, apierr.PersistenceError))
}

func TestFanOut_EmptySelection(t *testing.T) {
	f := newFixture(t)
	gen := echoGenerator()
	fo := NewFanOut(persona.NewRegistry(f.store, nil), gen, f.store, persona.Fixed{}, FanOutOptions{}, nil)

	out := fo.Run(context.Background(), "q?", nil, storage.Post{ID: "anchor"}, f.alice)
	assert.NotNil(t, out.Posts)
	assert.Empty(t, out.Posts)
	assert.Empty(t, out.Failures)
	assert.Zero(t, gen.callCount())
}

func TestPrimaryStage_PersistFailure(t *testing.T) {
	posts := postStoreFunc(func(context.Context, storage.Post) (storage.Post, error) {
		return storage.Post{}, errors.New("disk full")
	})
	stage := NewPrimaryStage(echoGenerator(), posts, nil)

	_, err := stage.Run(context.Background(), "q?", nil, storage.Profile{ID: "u1"})
	assert.True(t, apierr.Is(err, apierr.PersistenceError), "err = %v", err)
}

func TestCleanDerivedQuestion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"What is X?", "What is X?"},
		{"  What is X?\n", "What is X?"},
		{`"What is X?"`, "What is X?"},
		{`'What is X?'`, "What is X?"},
		{"“What is X?”", "What is X?"},
		{`" spaced "`, "spaced"},
		{`"`, `"`},
		{`""`, ""},
		{"", ""},
		{`He said "hi"?`, `He said "hi"?`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanDerivedQuestion(tt.in), "input %q", tt.in)
	}
}

type registryFunc func(ctx context.Context, ownerHandle, personaKey, ownerUserID string) (storage.Bot, error)

func (f registryFunc) Resolve(ctx context.Context, ownerHandle, personaKey, ownerUserID string) (storage.Bot, error) {
	return f(ctx, ownerHandle, personaKey, ownerUserID)
}

type postStoreFunc func(ctx context.Context, p storage.Post) (storage.Post, error)

func (f postStoreFunc) CreatePost(ctx context.Context, p storage.Post) (storage.Post, error) {
	return f(ctx, p)
}
