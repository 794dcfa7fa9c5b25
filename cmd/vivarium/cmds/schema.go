package cmds

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/go-go-golems/vivarium/pkg/events"
	"github.com/go-go-golems/vivarium/pkg/settings"
	"github.com/go-go-golems/vivarium/pkg/transcript"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// schemaTypes are the wire types `vivarium schema` can describe.
var schemaTypes = map[string]interface{}{
	"message":          &conversation.Message{},
	"metadata":         &conversation.ConversationMetadata{},
	"metadata-create":  &client.MetadataCreate{},
	"metadata-update":  &client.MetadataUpdate{},
	"cached-message":   &client.CachedMessage{},
	"system-prompt":    &client.SystemPrompt{},
	"event-partial":    &events.EventPartialCompletion{},
	"event-reconciled": &events.EventReconciled{},
	"sharegpt":         &transcript.ShareGPTConversation{},
	"alpaca":           &transcript.AlpacaEntry{},
	"settings":         &settings.ClientSettings{},
}

func schemaTypeNames() []string {
	ret := make([]string, 0, len(schemaTypes))
	for k := range schemaTypes {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <type>",
		Short: "Print the JSON schema of a wire type",
		Long:  "Types: " + strings.Join(schemaTypeNames(), ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok := schemaTypes[args[0]]
			if !ok {
				return errors.Errorf("unknown type %q (%s)", args[0], strings.Join(schemaTypeNames(), ", "))
			}
			reflector := &jsonschema.Reflector{
				DoNotReference: true,
			}
			schema := reflector.Reflect(v)
			b, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}
