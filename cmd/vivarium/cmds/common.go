package cmds

import (
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/go-go-golems/vivarium/pkg/settings"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"gopkg.in/yaml.v3"
)

func loadSettings() (*settings.ClientSettings, error) {
	return settings.FromViper(viper.GetViper())
}

func newClient() (*client.Client, *settings.ClientSettings, error) {
	cs, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	c, err := cs.NewClient()
	if err != nil {
		return nil, nil, err
	}
	return c, cs, nil
}

// conversationArg is the first argument, or the configured conversation.
func conversationArg(args []string, cs *settings.ClientSettings) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cs.ConversationID != "" {
		return cs.ConversationID, nil
	}
	return "", errors.New("no conversation given (pass an id or set --conversation)")
}

func printYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func printConversations(w io.Writer, list []conversation.ConversationMetadata) error {
	for _, meta := range list {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d messages", meta.ID, meta.Name, meta.MessageCount); err != nil {
			return err
		}
		if len(meta.Tags) > 0 {
			if _, err := fmt.Fprintf(w, "\t%v", meta.Tags); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// confirm asks a y/n question on the terminal. Without a terminal it
// refuses, so destructive commands need --yes in scripts.
func confirm(query string) (bool, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return false, errors.New("not a terminal, pass --yes to confirm")
	}

	ui := &input.UI{
		Writer: os.Stdout,
		Reader: os.Stdin,
	}
	answer, err := ui.Ask(query+" [y/n]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "could not read answer")
	}
	return answer == "y" || answer == "Y", nil
}

func stringPtr(cmdChanged bool, s string) *string {
	if !cmdChanged {
		return nil
	}
	return &s
}
