package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/go-go-golems/vivarium/pkg/conversation"
	"github.com/go-go-golems/vivarium/pkg/events"
	"github.com/go-go-golems/vivarium/pkg/exchange"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type chatOptions struct {
	message    string
	persona    string
	files      []string
	raw        bool
	showUsage  bool
	showStates bool
}

func NewChatCommand() *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Send messages to a conversation and stream the replies",
		Long: `Without --message, chat reads one message per line from stdin.
Ctrl-C interrupts the reply being streamed; pressed while idle, it exits.
Lines starting with /persona <id> ask that persona to reply without a user message.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "Send this message and exit")
	cmd.Flags().StringVar(&opts.persona, "persona", "", "Persona that should reply")
	cmd.Flags().StringSliceVarP(&opts.files, "file", "f", nil, "Image to attach to the first message (repeatable)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print the exchange events as JSON instead of text")
	cmd.Flags().BoolVar(&opts.showUsage, "show-usage", false, "Print token usage after each reply")
	cmd.Flags().BoolVar(&opts.showStates, "show-states", false, "Print exchange state changes")
	return cmd
}

func runChat(ctx context.Context, args []string, opts *chatOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c, cs, err := newClient()
	if err != nil {
		return err
	}
	conversationID, err := conversationArg(args, cs)
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	if opts.raw {
		router.AddHandler("raw", events.DefaultTopic, router.DumpRawEvents(os.Stdout))
	} else {
		router.AddHandler("printer", events.DefaultTopic, events.PrinterFunc(os.Stdout, events.PrinterOptions{
			Name:       "assistant",
			ShowUsage:  opts.showUsage,
			ShowStates: opts.showStates,
		}))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()

		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}

		meta, err := c.GetMetadata(ctx, conversationID)
		if err != nil {
			return err
		}
		list := conversation.NewMetadataList(*meta)

		coord, err := exchange.New(conversationID, c, conversation.NewStore(),
			exchange.WithMetadata(list),
			exchange.WithEventSinks(router.Sink(events.DefaultTopic)),
			exchange.WithCache(cs.Cache),
		)
		if err != nil {
			return err
		}
		if err := coord.Load(ctx); err != nil {
			return err
		}
		log.Info().
			Str("conversation_id", conversationID).
			Int("messages", coord.Store().Len()).
			Msg("conversation loaded")

		stopSignals := handleInterrupts(ctx, coord, cancel)
		defer stopSignals()

		files := opts.files
		send := func(text string, persona string) error {
			req := exchange.SendRequest{Text: text, TargetPersonaID: persona}
			closeFiles, err := openFiles(files, &req)
			if err != nil {
				return err
			}
			defer closeFiles()
			files = nil

			err = coord.Send(ctx, req)
			if err != nil && !errors.Is(err, exchange.ErrExchangeInFlight) {
				// already printed by the event handler
				log.Debug().Err(err).Msg("send failed")
				return nil
			}
			return err
		}

		if opts.message != "" || (opts.persona != "" && !isatty.IsTerminal(os.Stdin.Fd())) {
			return send(opts.message, opts.persona)
		}
		return repl(ctx, os.Stdin, opts.persona, send)
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleInterrupts turns Ctrl-C into a cancel of the exchange in flight, or
// into stop when idle.
func handleInterrupts(ctx context.Context, coord *exchange.Coordinator, stop context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigCh:
				if coord.Loading() {
					coord.Cancel()
					continue
				}
				stop()
				return
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func repl(ctx context.Context, r io.Reader, persona string, send func(text string, persona string) error) error {
	interactive := isatty.IsTerminal(os.Stdin.Fd())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		if interactive {
			fmt.Print("> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return nil
			case strings.HasPrefix(line, "/persona "):
				if err := send("", strings.TrimSpace(strings.TrimPrefix(line, "/persona "))); err != nil {
					return err
				}
			default:
				if err := send(line, persona); err != nil {
					return err
				}
			}
		}
	}
}

func openFiles(paths []string, req *exchange.SendRequest) (func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, errors.Wrapf(err, "could not open %s", p)
		}
		opened = append(opened, f)
		req.Files = append(req.Files, client.File{
			Name: filepath.Base(p),
			Data: f,
		})
	}
	return closeAll, nil
}
