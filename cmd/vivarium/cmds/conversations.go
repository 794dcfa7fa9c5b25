package cmds

import (
	"fmt"
	"os"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/go-go-golems/vivarium/pkg/exchange"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewConversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage conversations",
	}
	cmd.AddCommand(
		newListConversationsCommand(),
		newCreateConversationCommand(),
		newShowConversationCommand(),
		newDeleteConversationCommand(),
		newCloneConversationCommand(),
		newRenameConversationCommand(),
		newDeleteMessageCommand(),
		newToggleCacheCommand(),
		newAddCachedMessageCommand(),
		newGetImageCommand(),
	)
	return cmd
}

func newListConversationsCommand() *cobra.Command {
	var tagPattern string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			list, err := c.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			if tagPattern != "" {
				list, err = client.FilterByTagGlob(list, tagPattern)
				if err != nil {
					return err
				}
			}
			return printConversations(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&tagPattern, "tag", "", "Only conversations with a tag matching this glob (e.g. proj-*)")
	return cmd
}

func newCreateConversationCommand() *cobra.Command {
	var (
		id           string
		systemPrompt string
		model        string
		maxTokens    int
		tags         []string
		personaName  string
		userName     string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			if id == "" {
				id = uuid.NewString()
			}
			create := client.MetadataCreate{
				ID:             id,
				Name:           args[0],
				SystemPromptID: stringPtr(cmd.Flags().Changed("system-prompt"), systemPrompt),
				Model:          stringPtr(cmd.Flags().Changed("model"), model),
				Tags:           tags,
				PersonaName:    stringPtr(cmd.Flags().Changed("persona-name"), personaName),
				UserName:       stringPtr(cmd.Flags().Changed("user-name"), userName),
			}
			if create.Tags == nil {
				create.Tags = []string{}
			}
			if cmd.Flags().Changed("max-tokens") {
				create.MaxTokens = &maxTokens
			}
			meta, err := c.CreateConversation(cmd.Context(), create)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), meta)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Conversation id (default: a new uuid)")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "System prompt id")
	cmd.Flags().StringVar(&model, "model", "", "Model")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Max tokens per reply")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringVar(&personaName, "persona-name", "", "Name of the assistant persona")
	cmd.Flags().StringVar(&userName, "user-name", "", "Name of the user")
	return cmd
}

func newShowConversationCommand() *cobra.Command {
	var withMessages bool
	cmd := &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Show a conversation's metadata",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cs, err := newClient()
			if err != nil {
				return err
			}
			id, err := conversationArg(args, cs)
			if err != nil {
				return err
			}
			meta, err := c.GetMetadata(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !withMessages {
				return printYAML(cmd.OutOrStdout(), meta)
			}
			msgs, err := c.ListMessages(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), struct {
				Metadata *conversation.ConversationMetadata `yaml:"metadata"`
				Messages []*conversation.Message            `yaml:"messages"`
			}{meta, msgs})
		},
	}
	cmd.Flags().BoolVar(&withMessages, "messages", false, "Include the messages")
	return cmd
}

func newDeleteConversationCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			if !yes {
				meta, err := c.GetMetadata(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				ok, err := confirm(fmt.Sprintf("Delete conversation %q with %d messages?", meta.Name, meta.MessageCount))
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			return c.DeleteConversation(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Don't ask for confirmation")
	return cmd
}

func newCloneConversationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clone <conversation-id>",
		Short: "Clone a conversation with all its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			meta, err := c.CloneConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), meta)
		},
	}
}

func newRenameConversationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <conversation-id> <name>",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			meta, err := c.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			update := client.UpdateFromMetadata(*meta)
			update.Name = args[1]
			meta, err = c.UpdateMetadata(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), meta)
		},
	}
}

func newDeleteMessageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-message <conversation-id> <message-id>",
		Short: "Delete one message of a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			meta, err := c.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			list := conversation.NewMetadataList(*meta)
			coord, err := exchange.New(args[0], c, nil, exchange.WithMetadata(list))
			if err != nil {
				return err
			}
			if err := coord.Load(cmd.Context()); err != nil {
				return err
			}
			if err := coord.DeleteMessage(cmd.Context(), args[1]); err != nil {
				return err
			}
			updated, _ := list.Get(args[0])
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s, %d messages left\n", args[1], updated.MessageCount)
			return err
		},
	}
}

func newToggleCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-cache <conversation-id> <message-id>",
		Short: "Toggle the cache flag of a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			msgs, err := c.ToggleMessageCache(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if m.ID == args[1] {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s cache=%v\n", m.ID, m.Cache)
					return err
				}
			}
			return errors.Errorf("message %s not in the returned list", args[1])
		},
	}
}

func newAddCachedMessageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add-cached <conversation-id> <text>",
		Short: "Store a cached user message without asking for a reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			id, err := c.AddCachedMessage(cmd.Context(), args[0], client.CachedMessage{
				ID:                 uuid.NewString(),
				AssistantMessageID: uuid.NewString(),
				Content:            []conversation.ContentBlock{conversation.NewTextBlock(args[1])},
				Cache:              true,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
}

func newGetImageCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "image <conversation-id> <image-file>",
		Short: "Download an image attached to a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			data, contentType, err := c.GetImage(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if output == "" {
				output = args[1]
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return errors.Wrapf(err, "could not write %s", output)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes)\n", output, contentType, len(data))
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: the image file name)")
	return cmd
}
