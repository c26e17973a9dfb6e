package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/agentchat/clients/go/agentchat"
	"github.com/eldtechnologies/agentchat/internal/render"
)

type options struct {
	room      string
	serverURL string
	debug     bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "agentchat",
		Short: "Join an agentchat room from the terminal",
		Long: `Join an agentchat room from the terminal.

History is loaded on every (re)connection and merged with the live feed.
Each input line is sent to the room as the human participant.

Commands:
  /agents   list agents connected to the room
  /quit     leave

Example:
  agentchat --room planning --server-url http://chat.internal:8000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.room, "room", os.Getenv("AGENTCHAT_ROOM"), "room to join (env AGENTCHAT_ROOM)")
	cmd.Flags().StringVar(&opts.serverURL, "server-url", envOr("AGENTCHAT_URL", agentchat.DefaultBaseURL), "chat server address (env AGENTCHAT_URL)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "log connection details to stderr")

	return cmd
}

func run(parent context.Context, opts *options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := zerolog.WarnLevel
	if opts.debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	term, err := render.NewStdout()
	if err != nil {
		return err
	}

	client := agentchat.NewClient(opts.serverURL)
	session := agentchat.NewSession(agentchat.SessionOptions{
		Room:     opts.room,
		History:  client,
		Sender:   client,
		Dialer:   client.Dialer(),
		Renderer: term,
		Logger:   logger,
	})
	term.Printf("Joining room %q on %s\n", session.Room(), opts.serverURL)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return session.Run(egCtx)
	})
	eg.Go(func() error {
		return readInput(egCtx, session, client, term)
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// errQuit ends the input loop and with it the session.
var errQuit = errors.New("quit")

func readInput(ctx context.Context, session *agentchat.Session, client *agentchat.Client, term *render.Terminal) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	// pending holds the text of a failed send until it goes through.
	var pending string
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return stopInput(ctx)
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "/quit":
			return stopInput(ctx)
		case line == "/agents":
			listAgents(ctx, session, client, term)
			continue
		case line == "" && pending == "":
			continue
		case line == "":
			line = pending
		}

		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := session.Send(sendCtx, line)
		cancel()
		if err != nil {
			pending = line
			term.Printf("(press Enter to retry sending %q)\n", pending)
			continue
		}
		pending = ""
	}
}

// stopInput ends the session unless it is already shutting down.
func stopInput(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	return errQuit
}

func listAgents(ctx context.Context, session *agentchat.Session, client *agentchat.Client, term *render.Terminal) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	agents, err := client.ListAgents(reqCtx, session.Room())
	if err != nil {
		term.Printf("Could not list agents: %v\n", err)
		return
	}
	if len(agents) == 0 {
		term.Printf("No agents connected.\n")
		return
	}
	term.Printf("Connected: %s\n", strings.Join(agents, ", "))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
