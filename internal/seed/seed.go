// Package seed loads a demo profile with sample posts into an empty feed.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/aury/internal/storage"
)

const (
	DemoHandle   = "aury_demo"
	DemoUsername = "Aury Demo"
)

// Store defines the storage operations Demo needs. Implemented by storage.Store.
type Store interface {
	GetProfileByHandle(ctx context.Context, handle string) (storage.Profile, error)
	CreateProfile(ctx context.Context, p storage.Profile) (storage.Profile, error)
	CreatePost(ctx context.Context, p storage.Post) (storage.Post, error)
}

// BotResolver is satisfied by persona.Registry.
type BotResolver interface {
	Resolve(ctx context.Context, ownerHandle, personaKey, ownerUserID string) (storage.Bot, error)
}

// Report summarizes a seeding run.
type Report struct {
	Profile      storage.Profile
	Created      bool
	UserPosts    int
	BotPosts     int
	BotsResolved int
}

type template struct {
	title, content string
	topics         []string
}

var userTemplates = []template{
	{"What are the best practices for building scalable web applications?",
		"Building scalable applications requires thoughtful architecture and infrastructure planning. Focus on microservices for modularity, implement robust caching strategies, and leverage cloud services for dynamic scaling. Prioritize database optimization and API design for performance.",
		[]string{"Technology"}},
	{"How can AI improve healthcare diagnostics?",
		"AI transforms healthcare through pattern recognition and predictive modeling. Machine learning analyzes medical images faster and detects diseases earlier than traditional methods. This technology enhances diagnostic accuracy while reducing time to treatment, ultimately improving patient outcomes.",
		[]string{"Health"}},
	{"What makes a successful startup in 2025?",
		"Success requires solving genuine problems with innovative solutions. Focus on rapid product-market fit discovery, build diverse teams, and maintain financial discipline. Leverage AI automation while staying adaptable to market feedback and emerging opportunities.",
		[]string{"Business"}},
	{"How is climate change affecting global culture?",
		"Climate change reshapes cultural practices worldwide. Communities adapt traditions while creating new expressions addressing environmental challenges. Art, music, and literature increasingly reflect ecological concerns, fostering global awareness and inspiring sustainable cultural evolution.",
		[]string{"Culture"}},
	{"What are the emerging trends in software development?",
		"Key trends include AI-assisted coding, serverless architecture, and enhanced cybersecurity. Developers embrace low-code platforms while prioritizing sustainability and ethical tech practices. The focus shifts toward accessible, secure, and environmentally responsible software solutions.",
		[]string{"Technology"}},
}

// botTemplates is keyed by persona.
var botTemplates = map[string]template{
	"tech": {"Latest breakthrough in quantum computing explained",
		"Quantum computers achieve new milestones in error correction and qubit stability. Recent breakthroughs enable practical applications in cryptography and drug discovery, bringing quantum advantage closer to reality for solving complex computational problems.",
		[]string{"Technology"}},
	"health": {"Mental health benefits of daily meditation",
		"Regular meditation reduces stress, improves focus, and enhances emotional well-being. Research confirms that just 10 minutes daily significantly impacts mental health, helping manage anxiety and build resilience through mindfulness practice.",
		[]string{"Health"}},
	"business": {"Remote work productivity tips for entrepreneurs",
		"Successful remote work requires structured schedules, dedicated workspaces, and regular breaks. Essential tools include communication platforms and project management software. Maintain work-life boundaries while staying connected with your team for optimal productivity.",
		[]string{"Business"}},
	"culture": {"The influence of social media on modern art",
		"Social media democratizes art creation and distribution, connecting artists with global audiences instantly. Digital art gains traditional gallery recognition while platforms enable new creative expressions, transforming how we create and consume contemporary art.",
		[]string{"Culture"}},
}

// Demo creates the demo profile, its sample posts, and one sample post per
// persona in personas that has a template. If the demo profile already
// exists nothing is written.
func Demo(ctx context.Context, store Store, bots BotResolver, personas []string) (Report, error) {
	existing, err := store.GetProfileByHandle(ctx, DemoHandle)
	if err == nil {
		return Report{Profile: existing}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Report{}, fmt.Errorf("looking up demo profile: %w", err)
	}

	profile, err := store.CreateProfile(ctx, storage.Profile{Username: DemoUsername, Handle: DemoHandle})
	if errors.Is(err, storage.ErrConflict) {
		// Seeded concurrently.
		p, err := store.GetProfileByHandle(ctx, DemoHandle)
		return Report{Profile: p}, err
	}
	if err != nil {
		return Report{}, fmt.Errorf("creating demo profile: %w", err)
	}
	report := Report{Profile: profile, Created: true}

	for _, t := range userTemplates {
		if _, err := store.CreatePost(ctx, storage.Post{
			Title:    t.title,
			Content:  t.content,
			Topics:   t.topics,
			AuthorID: profile.ID,
		}); err != nil {
			return report, fmt.Errorf("creating demo post: %w", err)
		}
		report.UserPosts++
	}

	for _, key := range personas {
		t, ok := botTemplates[key]
		if !ok {
			continue
		}
		bot, err := bots.Resolve(ctx, profile.Handle, key, profile.ID)
		if err != nil {
			return report, fmt.Errorf("resolving demo bot %s: %w", key, err)
		}
		report.BotsResolved++

		meta, err := json.Marshal(map[string]string{"persona": key, "source": "seed"})
		if err != nil {
			return report, err
		}
		if _, err := store.CreatePost(ctx, storage.Post{
			Title:    t.title,
			Content:  t.content,
			Topics:   t.topics,
			IsBot:    true,
			BotID:    bot.ID,
			Metadata: meta,
		}); err != nil {
			return report, fmt.Errorf("creating demo bot post: %w", err)
		}
		report.BotPosts++
	}
	return report, nil
}
