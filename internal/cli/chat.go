package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/spf13/cobra"
)

const consoleChannelID = "console"

// consoleChannel is a domain.Channel that prints outbound messages to a
// writer. Inbound messages are injected by the chat loop, not read here.
type consoleChannel struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *consoleChannel) ID() string { return consoleChannelID }

func (c *consoleChannel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{ChatTypes: []domain.ChatType{domain.ChatTypeDM}}
}

func (c *consoleChannel) Start(context.Context) error           { return nil }
func (c *consoleChannel) Stop(context.Context) error            { return nil }
func (c *consoleChannel) OnMessage(func(domain.InboundMessage)) {}

func (c *consoleChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "bot> %s\n", msg.Body)
	return err
}

// chatClock is a wall clock that can be pushed forward to trigger follow-ups.
type chatClock struct {
	offset atomic.Int64
}

func (c *chatClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *chatClock) Advance(d time.Duration) { c.offset.Add(int64(d)) }

func newChatCmd() *cobra.Command {
	var (
		persist bool
		from    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the engine from the terminal as a prospect",
		Long: "chat runs the engine against an in-memory store and prints replies.\n\n" +
			"Commands: /session shows the session, /advance <duration> moves the clock " +
			"forward and runs due follow-ups, /quit exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			clock := &chatClock{}
			console := &consoleChannel{out: cmd.OutOrStdout()}
			a, err := newApp(cfg, paths, log, appOptions{
				memoryStore:            !persist,
				skipConfiguredChannels: true,
				channels:               []domain.Channel{console},
				now:                    clock.Now,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return chatLoop(ctx, a, clock, cmd.InOrStdin(), cmd.OutOrStdout(), from)
		},
	}

	cmd.Flags().BoolVar(&persist, "persist", false, "use the configured store instead of memory")
	cmd.Flags().StringVar(&from, "from", "cli", "sender id of the prospect")
	return cmd
}

func chatLoop(ctx context.Context, a *app, clock *chatClock, in io.Reader, out io.Writer, from string) error {
	sessionID := ""
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "you> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/session":
			if err := printSession(ctx, a, sessionID, out); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		case strings.HasPrefix(line, "/advance"):
			if err := advance(ctx, a, clock, strings.TrimSpace(strings.TrimPrefix(line, "/advance")), out); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		default:
			res, err := a.orch.HandleInbound(ctx, domain.InboundMessage{
				ID:        uuid.NewString(),
				ChannelID: consoleChannelID,
				From:      from,
				FromName:  from,
				ChatID:    from,
				ChatType:  domain.ChatTypeDM,
				Body:      line,
				Timestamp: clock.Now(),
			})
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				break
			}
			sessionID = res.SessionID
			fmt.Fprintf(out, "[%s %s intent=%.2f rule=%s]\n",
				res.Session.Mode, res.Session.Stage, res.Session.IntentScore, res.Decision.Rule)
			if res.Summary != "" {
				fmt.Fprintf(out, "[summary: %s]\n", res.Summary)
			}
		}
		fmt.Fprint(out, "you> ")
	}
	return scanner.Err()
}

func printSession(ctx context.Context, a *app, id string, out io.Writer) error {
	if id == "" {
		return fmt.Errorf("no session yet; say something first")
	}
	sess, err := a.store.LoadSession(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}

func advance(ctx context.Context, a *app, clock *chatClock, arg string, out io.Writer) error {
	d, err := time.ParseDuration(arg)
	if err != nil || d <= 0 {
		return fmt.Errorf("usage: /advance <duration>, e.g. /advance 2h")
	}
	clock.Advance(d)
	res, err := a.sched.Sweep(ctx, clock.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[clock +%s, %d follow-up(s) due]\n", d, res.Due)
	return nil
}
