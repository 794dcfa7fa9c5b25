package cmds

import (
	"fmt"

	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/mb0/glob"
	"github.com/spf13/cobra"
)

func NewTagsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List and edit conversation tags",
	}
	cmd.AddCommand(
		newListTagsCommand(),
		newShowTagCommand(),
		newAddTagCommand(),
		newRemoveTagCommand(),
	)
	return cmd
}

func newListTagsCommand() *cobra.Command {
	var pattern string
	var local bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			var tags []string
			if local {
				list, err := c.ListConversations(cmd.Context())
				if err != nil {
					return err
				}
				tags = conversation.NewMetadataList(list...).Tags()
			} else {
				tags, err = c.ListTags(cmd.Context())
				if err != nil {
					return err
				}
			}
			for _, tag := range tags {
				if pattern != "" {
					ok, err := glob.Match(pattern, tag)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), tag); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "match", "", "Only tags matching this glob")
	cmd.Flags().BoolVar(&local, "local", false, "Collect tags from the conversation list instead of asking the service")
	return cmd
}

func newShowTagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tag>",
		Short: "List the conversations with a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			list, err := c.ConversationsByTag(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printConversations(cmd.OutOrStdout(), list)
		},
	}
}

func newAddTagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <conversation-id> <tag>",
		Short: "Tag a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			meta, err := c.AddTag(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printConversations(cmd.OutOrStdout(), []conversation.ConversationMetadata{*meta})
		},
	}
}

func newRemoveTagCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <conversation-id> <tag>",
		Short: "Remove a tag from a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			meta, err := c.RemoveTag(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printConversations(cmd.OutOrStdout(), []conversation.ConversationMetadata{*meta})
		},
	}
}
