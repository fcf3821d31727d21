package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/replybot/replybot/internal/bot"
	"github.com/replybot/replybot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
	Bot   bot.Provider
}

// NewMCPServer creates an MCP server exposing the reply pipeline and
// usage reporting as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"replybot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("replybot — conversational reply generation with usage accounting for forum and chat channels."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_reply",
			mcp.WithDescription("Generate a reply to a stored conversation turn, using the surrounding conversation as context."),
			mcp.WithNumber("turn_id", mcp.Description("ID of the turn to reply to"), mcp.Required()),
			mcp.WithNumber("user_id", mcp.Description("ID of the user asking for the reply"), mcp.Required()),
		),
		mcpGenerateReply(deps),
	)

	s.AddTool(
		mcp.NewTool("usage_statistics",
			mcp.WithDescription("Report aggregate token usage, interaction counts, and the most active users."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of top users (default 10)")),
		),
		mcpUsageStatistics(deps),
	)

	return s
}

func mcpGenerateReply(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		turnID := req.GetInt("turn_id", 0)
		if turnID == 0 {
			return mcpError("turn_id is required"), nil
		}
		userID := req.GetInt("user_id", 0)
		if userID == 0 {
			return mcpError("user_id is required"), nil
		}

		text, err := deps.Bot.Reply(ctx, int64(turnID), int64(userID))
		if err != nil {
			return mcpError(fmt.Sprintf("reply failed: %v", err)), nil
		}

		return mcpText(text), nil
	}
}

func mcpUsageStatistics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		var stats statisticsResponse
		var g errgroup.Group
		g.Go(func() (err error) {
			stats.TotalTokensConsumed, err = deps.Store.TotalTokensConsumed()
			return err
		})
		g.Go(func() (err error) {
			stats.TotalChatInteractions, err = deps.Store.TotalInteractions()
			return err
		})
		g.Go(func() (err error) {
			stats.TotalUsersInteracted, err = deps.Store.TotalUsersInteracted()
			return err
		})
		g.Go(func() (err error) {
			stats.TopUsers, err = deps.Store.TopUsers(limit)
			return err
		})
		if err := g.Wait(); err != nil {
			return mcpError(fmt.Sprintf("computing statistics: %v", err)), nil
		}

		if stats.TopUsers == nil {
			stats.TopUsers = []storage.UserUsage{}
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal statistics: %v", err)), nil
		}

		return mcpText(string(b)), nil
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
