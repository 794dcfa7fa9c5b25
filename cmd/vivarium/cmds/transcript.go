package cmds

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/transcript"
	"github.com/spf13/cobra"
)

func NewTranscriptCommand() *cobra.Command {
	var (
		format          string
		assistantPrefix string
		userPrefix      string
		remote          bool
	)
	formats := make([]string, 0, len(transcript.Formats()))
	for _, f := range transcript.Formats() {
		formats = append(formats, string(f))
	}

	cmd := &cobra.Command{
		Use:   "transcript [conversation-id]",
		Short: "Export a conversation transcript",
		Long: `Renders the conversation locally from its messages. With --remote the
service renders it instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cs, err := newClient()
			if err != nil {
				return err
			}
			id, err := conversationArg(args, cs)
			if err != nil {
				return err
			}
			f, err := transcript.ParseFormat(format)
			if err != nil {
				return err
			}
			assistant := stringPtr(cmd.Flags().Changed("assistant-prefix"), assistantPrefix)
			user := stringPtr(cmd.Flags().Changed("user-prefix"), userPrefix)

			if remote {
				out, err := c.GetTranscript(cmd.Context(), id, client.TranscriptOptions{
					Format:          f,
					AssistantPrefix: assistant,
					UserPrefix:      user,
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			}

			msgs, err := c.ListMessages(cmd.Context(), id)
			if err != nil {
				return err
			}
			return transcript.Render(cmd.OutOrStdout(), f, msgs, transcript.Options{
				AssistantPrefix: assistant,
				UserPrefix:      user,
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", string(transcript.FormatMarkdown), "Format ("+strings.Join(formats, ", ")+")")
	cmd.Flags().StringVar(&assistantPrefix, "assistant-prefix", transcript.DefaultAssistantPrefix, "Assistant prefix (markdown only)")
	cmd.Flags().StringVar(&userPrefix, "user-prefix", transcript.DefaultUserPrefix, "User prefix (markdown only)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Let the service render the transcript")
	return cmd
}
