package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/aury/internal/api"
	"github.com/kalambet/aury/internal/auth"
	"github.com/kalambet/aury/internal/config"
	"github.com/kalambet/aury/internal/logger"
	"github.com/kalambet/aury/internal/persona"
	"github.com/kalambet/aury/internal/seed"
	"github.com/kalambet/aury/internal/storage"
)

// openLocal opens the configured database directly, for commands that work
// without a running server.
func openLocal() (config.Config, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("opening storage: %w", err)
	}
	return cfg, store, nil
}

// mintToken issues a bearer token for the profile with the given handle.
func mintToken(ctx context.Context, handle string, ttl time.Duration) (string, error) {
	cfg, store, err := openLocal()
	if err != nil {
		return "", err
	}
	defer store.Close()

	p, err := store.GetProfileByHandle(ctx, handle)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("no profile with handle %q", handle)
	}
	if err != nil {
		return "", err
	}
	return auth.Issue(cfg.Auth.JWTSecret, p.ID, ttl, time.Now())
}

// authedClient builds an API client from --token, AURY_TOKEN or --as.
func authedClient(cmd *cobra.Command) (*apiClient, error) {
	flag, _ := cmd.Flags().GetString("token")
	token := tokenFrom(flag)
	if token == "" {
		if handle, _ := cmd.Flags().GetString("as"); handle != "" {
			t, err := mintToken(cmd.Context(), handle, 10*time.Minute)
			if err != nil {
				return nil, err
			}
			token = t
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no credentials: pass --token, set AURY_TOKEN, or use --as <handle>")
	}
	return newAPIClient(token)
}

func addAuthFlags(cmd *cobra.Command) {
	cmd.Flags().String("token", "", "bearer token (default $AURY_TOKEN)")
	cmd.Flags().String("as", "", "mint a short-lived token for this profile handle")
}

func splitTopics(s string) []string {
	var topics []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question and publish the answer with persona follow-ups",
	Long: `Ask a question. The answer is published as your post and a few persona
bots publish related posts of their own.

Examples:
  aury ask "What are the benefits of exercise?" --topics health,fitness --as alice
  AURY_TOKEN=... aury ask "How do I learn Go?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, _ := cmd.Flags().GetString("topics")
		client, err := authedClient(cmd)
		if err != nil {
			return err
		}
		printStep("Generating...")
		return runAsk(cmd.Context(), client, os.Stdout, strings.Join(args, " "), splitTopics(topics))
	},
}

func runAsk(ctx context.Context, client *apiClient, w io.Writer, question string, topics []string) error {
	body := map[string]any{"question": question}
	if topics != nil {
		body["topics"] = topics
	}
	resp, err := client.post(ctx, "/generate-post", body)
	if err != nil {
		return err
	}

	var result api.GeneratePostResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	writePost(w, result.UserPost, 0)
	for _, p := range result.BotPosts {
		writePost(w, p, 0)
	}
	for _, f := range result.FailedPersonas {
		printWarning("%s persona failed at %s (%s)", f.Persona, f.Stage, f.Error)
	}
	printSuccess("Published 1 post and %d bot posts", len(result.BotPosts))
	return nil
}

func init() {
	askCmd.Flags().String("topics", "", "comma-separated topics")
	addAuthFlags(askCmd)
}

// --- feed ---

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the most recent posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		client, err := authedClient(cmd)
		if err != nil {
			return err
		}
		return runFeed(cmd.Context(), client, os.Stdout, limit, offset)
	},
}

func runFeed(ctx context.Context, client *apiClient, w io.Writer, limit, offset int) error {
	resp, err := client.get(ctx, fmt.Sprintf("/posts?limit=%d&offset=%d", limit, offset))
	if err != nil {
		return err
	}

	var list api.PostList
	if err := decodeJSON(resp, &list); err != nil {
		return err
	}
	if len(list.Posts) == 0 {
		fmt.Fprintln(w, "No posts found.")
		return nil
	}
	for _, p := range list.Posts {
		writePost(w, p, 280)
	}
	fmt.Fprintf(w, "%d-%d of %d\n", list.Offset+1, list.Offset+len(list.Posts), list.Total)
	return nil
}

func init() {
	feedCmd.Flags().Int("limit", 20, "maximum number of posts")
	feedCmd.Flags().Int("offset", 0, "number of posts to skip")
	addAuthFlags(feedCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage profiles",
}

var profileCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		handle, _ := cmd.Flags().GetString("handle")
		if username == "" || handle == "" {
			return fmt.Errorf("--username and --handle are required")
		}

		_, store, err := openLocal()
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.CreateProfile(cmd.Context(), storage.Profile{Username: username, Handle: handle})
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("handle %q is taken", handle)
		}
		if err != nil {
			return err
		}
		printSuccess("Created profile %s (%s)", p.Handle, p.ID)
		return nil
	},
}

var profileListBotsCmd = &cobra.Command{
	Use:   "bots <handle>",
	Short: "List the persona bots owned by a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openLocal()
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.GetProfileByHandle(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("looking up %q: %w", args[0], err)
		}
		bots, err := store.ListBotsByOwner(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		if len(bots) == 0 {
			fmt.Println("No bots yet.")
			return nil
		}
		for _, b := range bots {
			fmt.Printf("%s  %s  %s\n", colorize(colorMagenta, b.Handle), b.Name, b.CreatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	profileCreateCmd.Flags().String("username", "", "display name")
	profileCreateCmd.Flags().String("handle", "", "unique handle")
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileListBotsCmd)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token <handle>",
	Short: "Print a bearer token for a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := mintToken(cmd.Context(), args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo profile with sample posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openLocal()
		if err != nil {
			return err
		}
		defer store.Close()

		log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
		if err != nil {
			return err
		}
		defer log.Sync()

		r, err := seed.Demo(cmd.Context(), store, persona.NewRegistry(store, log), cfg.FanOut.PersonaKeys())
		if err != nil {
			return err
		}
		if !r.Created {
			printWarning("Demo profile %s already exists", r.Profile.Handle)
			return nil
		}
		printSuccess("Seeded %s: %d posts, %d bot posts", r.Profile.Handle, r.UserPosts, r.BotPosts)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (generation.api_key, auth.jwt_secret) in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
