package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tutorstack/tutorcore/internal/config"
)

var conversationsLimit int

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.OwnerID == "" {
			return fmt.Errorf("owner_id is required: set it in the config file or TUTOR_OWNER_ID")
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		conversations, err := store.ListConversations(cmd.Context(), cfg.OwnerID, conversationsLimit)
		if err != nil {
			return err
		}
		if len(conversations) == 0 {
			fmt.Println("no conversations yet")
			return nil
		}

		for _, c := range conversations {
			title := c.Title
			if title == "" {
				title = "(untitled)"
			}
			star := "  "
			if c.Starred {
				star = "* "
			}
			line := fmt.Sprintf("%s%s  %s  %s", star, c.LastMessageAt.Format("2006-01-02 15:04"), c.ID, title)
			if len(c.Tags) > 0 {
				line += "  [" + strings.Join(c.Tags, ", ") + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	conversationsCmd.Flags().IntVar(&conversationsLimit, "limit", 20, "maximum conversations to list")
}
