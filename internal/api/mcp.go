package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/pipeline"
	"github.com/kalambet/aury/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. Every generated post is
// attributed to Owner.
type MCPDeps struct {
	Generator PostGenerator
	Feed      FeedStore
	Owner     storage.Profile
}

// NewMCPServer creates an MCP server with the aury tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"aury",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("aury: ask a question and get an answer plus related posts from persona bots."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_post",
			mcp.WithDescription("Answer a question as a feed post and fan it out to related persona bot posts."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithArray("topics", mcp.Description("Optional topic tags"), mcp.WithStringItems()),
		),
		mcpGeneratePost(deps),
	)

	s.AddTool(
		mcp.NewTool("list_posts",
			mcp.WithDescription("List the most recent posts in the feed, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of posts (default 10)")),
		),
		mcpListPosts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"feed://recent",
			"Recent Posts",
			mcp.WithResourceDescription("Last 10 posts (titles and excerpts)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpGeneratePost(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		topics := req.GetStringSlice("topics", nil)

		res, err := deps.Generator.Generate(ctx, deps.Owner, pipeline.Request{Question: question, Topics: topics})
		if err != nil {
			return mcpError(fmt.Sprintf("%s: %v", apierr.KindOf(err), err)), nil
		}

		failed := make([]string, 0, len(res.Failures))
		for _, f := range res.Failures {
			failed = append(failed, f.Persona)
		}
		b, err := json.Marshal(map[string]any{
			"userPost":       res.UserPost,
			"botPosts":       res.BotPosts,
			"failedPersonas": failed,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListPosts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		limit = min(limit, maxPageSize)

		posts, err := deps.Feed.ListPosts(ctx, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("listing posts failed: %v", err)), nil
		}
		if len(posts) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(posts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal posts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		posts, err := deps.Feed.ListPosts(ctx, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent posts: %w", err)
		}

		type postSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Title     string `json:"title"`
			Excerpt   string `json:"excerpt"`
			IsBot     bool   `json:"is_bot"`
		}

		summaries := make([]postSummary, len(posts))
		for i, p := range posts {
			excerpt := p.Content
			if utf8.RuneCountInString(excerpt) > 200 {
				runes := []rune(excerpt)
				excerpt = string(runes[:200]) + "..."
			}
			summaries[i] = postSummary{
				ID:        p.ID,
				CreatedAt: p.CreatedAt.Format(time.RFC3339),
				Title:     p.Title,
				Excerpt:   excerpt,
				IsBot:     p.IsBot,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal posts: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
