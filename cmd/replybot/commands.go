package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/replybot/replybot/internal/config"
)

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/admin/statistics")
		if err != nil {
			return err
		}

		var stats struct {
			TotalTokensConsumed   int64 `json:"total_tokens_consumed"`
			TotalChatInteractions int64 `json:"total_chat_interactions"`
			TotalUsersInteracted  int64 `json:"total_users_interacted"`
			TopUsers              []struct {
				ID       int64  `json:"id"`
				Username string `json:"username"`
			} `json:"top_users"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Tokens consumed", "%d", stats.TotalTokensConsumed)
		printStatus("Interactions", "%d", stats.TotalChatInteractions)
		printStatus("Users interacted", "%d", stats.TotalUsersInteracted)
		if len(stats.TopUsers) > 0 {
			fmt.Println(colorize(colorBold, "Top users:"))
			for i, u := range stats.TopUsers {
				fmt.Printf("  %2d. %s (id %d)\n", i+1, u.Username, u.ID)
			}
		}
		return nil
	},
}

// --- reply ---

var replyCmd = &cobra.Command{
	Use:   "reply <turn-id> <user-id>",
	Short: "Generate a reply to a stored turn",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		turnID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid turn id %q", args[0])
		}
		userID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[1])
		}

		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"turn_id": turnID, "user_id": userID, "sync": wait}
		resp, err := client.post("/v1/reply", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if wait {
			fmt.Println(result["reply"])
			return nil
		}
		printSuccess("Queued reply job %s", result["job_id"])
		return nil
	},
}

func init() {
	replyCmd.Flags().Bool("wait", false, "generate the reply synchronously and print it")
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update live bot settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/admin/settings")
		if err != nil {
			return err
		}

		var values map[string]string
		if err := decodeJSON(resp, &values); err != nil {
			return err
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k), values[k])
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a live setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put("/admin/settings", map[string]string{key: value})
		if err != nil {
			return err
		}

		var values map[string]string
		if err := decodeJSON(resp, &values); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show process configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
