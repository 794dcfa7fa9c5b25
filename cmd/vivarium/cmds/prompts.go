package cmds

import (
	"fmt"
	"os"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewPromptsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Manage system prompts",
	}
	cmd.AddCommand(
		newListPromptsCommand(),
		newShowPromptCommand(),
		newCreatePromptCommand(),
		newUpdatePromptCommand(),
		newDeletePromptCommand(),
		newPromptFromTranscriptCommand(),
	)
	return cmd
}

func newListPromptsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List system prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			prompts, err := c.ListSystemPrompts(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range prompts {
				cached := ""
				if p.IsCached {
					cached = "\tcached"
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chars%s\n", p.ID, p.Name, len(p.Content), cached); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newShowPromptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <prompt-id>",
		Short: "Show a system prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			p, err := c.GetSystemPrompt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), p)
		},
	}
}

// promptContent reads --content, or --file when content is empty.
func promptContent(content string, file string) (string, error) {
	if file == "" {
		return content, nil
	}
	if content != "" {
		return "", errors.New("--content and --file are exclusive")
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", errors.Wrapf(err, "could not read %s", file)
	}
	return string(b), nil
}

func newCreatePromptCommand() *cobra.Command {
	var content, file, description string
	var cached bool
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a system prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			text, err := promptContent(content, file)
			if err != nil {
				return err
			}
			p, err := c.CreateSystemPrompt(cmd.Context(), client.SystemPromptCreate{
				Name:        args[0],
				Content:     text,
				Description: stringPtr(cmd.Flags().Changed("description"), description),
				IsCached:    cached,
			})
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "Prompt text")
	cmd.Flags().StringVar(&file, "file", "", "Read the prompt text from a file")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().BoolVar(&cached, "cached", false, "Ask the service to cache the prompt")
	return cmd
}

func newUpdatePromptCommand() *cobra.Command {
	var name, content, file, description string
	var cached bool
	cmd := &cobra.Command{
		Use:   "update <prompt-id>",
		Short: "Change the given fields of a system prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			update := client.SystemPromptUpdate{
				Name:        stringPtr(cmd.Flags().Changed("name"), name),
				Description: stringPtr(cmd.Flags().Changed("description"), description),
			}
			if cmd.Flags().Changed("content") || cmd.Flags().Changed("file") {
				text, err := promptContent(content, file)
				if err != nil {
					return err
				}
				update.Content = &text
			}
			if cmd.Flags().Changed("cached") {
				update.IsCached = &cached
			}
			p, err := c.UpdateSystemPrompt(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&content, "content", "", "New prompt text")
	cmd.Flags().StringVar(&file, "file", "", "Read the new prompt text from a file")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().BoolVar(&cached, "cached", false, "Cache flag")
	return cmd
}

func newDeletePromptCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <prompt-id>",
		Short: "Delete a system prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			if !yes {
				ok, err := confirm(fmt.Sprintf("Delete system prompt %s?", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			return c.DeleteSystemPrompt(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Don't ask for confirmation")
	return cmd
}

func newPromptFromTranscriptCommand() *cobra.Command {
	var name, assistantPrefix, userPrefix string
	cmd := &cobra.Command{
		Use:   "from-transcript <conversation-id>",
		Short: "Create a system prompt holding a conversation's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			p, err := c.SystemPromptFromTranscript(cmd.Context(), args[0], name, client.TranscriptOptions{
				Format:          transcript.FormatMarkdown,
				AssistantPrefix: stringPtr(cmd.Flags().Changed("assistant-prefix"), assistantPrefix),
				UserPrefix:      stringPtr(cmd.Flags().Changed("user-prefix"), userPrefix),
			})
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Prompt name")
	cmd.Flags().StringVar(&assistantPrefix, "assistant-prefix", "", "Assistant prefix in the transcript")
	cmd.Flags().StringVar(&userPrefix, "user-prefix", "", "User prefix in the transcript")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
