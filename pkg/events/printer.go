package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type PrinterOptions struct {
	// Name is printed before the first delta of each reply.
	Name string
	// ShowUsage prints token usage after a reconciled reply.
	ShowUsage bool
	// ShowStates prints every state transition.
	ShowStates bool
}

// PrinterFunc returns a router handler that renders a streaming reply on w.
func PrinterFunc(w io.Writer, opts PrinterOptions) func(msg *message.Message) error {
	isFirst := true
	lastUsageFor := ""

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("could not decode event for printing")
			return nil
		}

		switch p_ := e.(type) {
		case *EventStart:
			isFirst = true

		case *EventPartialCompletion:
			if isFirst && opts.Name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: ", opts.Name); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(w, p_.Delta); err != nil {
				return err
			}

		case *EventFinal:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}

		case *EventInterrupt:
			if _, err := fmt.Fprintln(w, "\n[interrupted]"); err != nil {
				return err
			}

		case *EventError:
			if _, err := fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString); err != nil {
				return err
			}

		case *EventStateChanged:
			if opts.ShowStates {
				if _, err := fmt.Fprintf(w, "[%s -> %s]\n", p_.From, p_.To); err != nil {
					return err
				}
			}

		case *EventReconciled:
			usage := p_.Metadata().Usage
			if !opts.ShowUsage || usage == nil || lastUsageFor == p_.Metadata().AssistantMessageID {
				break
			}
			lastUsageFor = p_.Metadata().AssistantMessageID
			v_, err := yaml.Marshal(usage)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s", v_); err != nil {
				return err
			}
		}

		return nil
	}
}
