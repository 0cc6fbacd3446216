package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/gateway"
	"github.com/soyeahso/closer/internal/version"
	"github.com/spf13/cobra"
)

const operatorTimeout = 30 * time.Second

type operatorFlags struct {
	url      string
	token    string
	password string
}

func newOperatorCmd() *cobra.Command {
	var flags operatorFlags
	cmd := &cobra.Command{
		Use:     "operator",
		Aliases: []string{"op"},
		Short:   "Take over, hand back and answer conversations through a running gateway",
	}
	cmd.PersistentFlags().StringVar(&flags.url, "url", "", "gateway WebSocket URL (default from gateway config)")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "gateway token (default gateway.auth.token or CLOSER_GATEWAY_TOKEN)")
	cmd.PersistentFlags().StringVar(&flags.password, "password", "", "gateway password (password auth mode)")

	cmd.AddCommand(
		newOperatorModeCmd(&flags),
		newOperatorResolveCmd(&flags),
		newOperatorStageCmd(&flags),
		newOperatorReplyCmd(&flags),
		newOperatorWatchCmd(&flags),
	)
	return cmd
}

// gatewayURL derives the console URL for a local gateway.
func gatewayURL(cfg config.GatewayConfig) string {
	scheme := "ws"
	if cfg.TLS.Enabled {
		scheme = "wss"
	}
	host := "127.0.0.1"
	if cfg.Bind == "custom" && cfg.CustomBindHost != "" && cfg.CustomBindHost != "0.0.0.0" {
		host = cfg.CustomBindHost
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(cfg.Port)), Path: "/ws"}
	return u.String()
}

// dialOperator connects to the gateway. Flags override config.
func dialOperator(ctx context.Context, flags *operatorFlags, events ...string) (*gateway.Console, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	target := flags.url
	if target == "" {
		target = gatewayURL(cfg.Gateway)
	}
	resolved := gateway.ResolveAuth(cfg.Gateway.Auth)
	auth := gateway.ConnectAuth{Token: resolved.Token, Password: resolved.Password}
	if flags.token != "" {
		auth.Token = flags.token
	}
	if flags.password != "" {
		auth.Password = flags.password
	}
	return gateway.Dial(ctx, target, auth, gateway.ClientInfo{
		ID:          "closer-cli",
		DisplayName: "closer operator",
		Version:     version.Version,
		Platform:    "cli",
	}, events...)
}

// operatorCall performs one RPC and prints the resulting session.
func operatorCall(cmd *cobra.Command, flags *operatorFlags, method string, params any) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), operatorTimeout)
	defer cancel()
	c, err := dialOperator(ctx, flags)
	if err != nil {
		return err
	}
	defer c.Close()

	var out struct {
		Session domain.Session `json:"session"`
	}
	if err := c.Call(ctx, method, params, &out); err != nil {
		return err
	}
	s := out.Session
	fmt.Fprintf(cmd.OutOrStdout(), "%s: mode=%s stage=%s intent=%.2f\n", s.ID, s.Mode, s.Stage, s.IntentScore)
	if w := handoffWarning(s); w != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), w)
	}
	return nil
}

// handoffWarning flags an AUTO session that still carries a handoff
// trigger and will escalate again on the next message.
func handoffWarning(s domain.Session) string {
	if s.Mode != domain.ModeAuto || (!s.RequestsHuman && s.ConsecutiveNegative == 0) {
		return ""
	}
	return fmt.Sprintf("warning: %s still has an open handoff (requestsHuman=%t, negativeStreak=%d); run `closer operator resolve %s` to clear it",
		s.ID, s.RequestsHuman, s.ConsecutiveNegative, s.ID)
}

func newOperatorModeCmd(flags *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mode <session-id> <AUTO|MANUAL>",
		Short: "Take over a conversation (MANUAL) or hand it back to the bot (AUTO)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := domain.ParseMode(args[1])
			if err != nil {
				return err
			}
			return operatorCall(cmd, flags, gateway.MethodSetMode, gateway.SetModeParams{SessionID: args[0], Mode: string(mode)})
		},
	}
}

func newOperatorResolveCmd(flags *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <session-id>",
		Short: "Clear a NEEDS_ATTENTION flag and resume automatic replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return operatorCall(cmd, flags, gateway.MethodResolveHandoff, gateway.SessionParams{SessionID: args[0]})
		},
	}
}

func newOperatorStageCmd(flags *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <session-id> <stage>",
		Short: "Set the sales stage of a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := domain.ParseStage(args[1])
			if err != nil {
				return err
			}
			return operatorCall(cmd, flags, gateway.MethodSetStage, gateway.SetStageParams{SessionID: args[0], Stage: string(stage)})
		},
	}
}

func newOperatorReplyCmd(flags *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <session-id> <text...>",
		Short: "Send a message to the prospect as the operator",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), operatorTimeout)
			defer cancel()
			c, err := dialOperator(ctx, flags)
			if err != nil {
				return err
			}
			defer c.Close()

			var out struct {
				Delivered bool   `json:"delivered"`
				Error     string `json:"error"`
			}
			text := strings.Join(args[1:], " ")
			if err := c.Call(ctx, gateway.MethodReply, gateway.ReplyParams{SessionID: args[0], Text: text}, &out); err != nil {
				return err
			}
			if !out.Delivered {
				return fmt.Errorf("reply logged but not delivered: %s", out.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "delivered")
			return nil
		},
	}
}

func newOperatorWatchCmd(flags *operatorFlags) *cobra.Command {
	var events []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream engine events (messages, handoffs, follow-ups)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dialCtx, cancel := context.WithTimeout(ctx, operatorTimeout)
			c, err := dialOperator(dialCtx, flags, events...)
			cancel()
			if err != nil {
				return err
			}
			defer c.Close()

			for {
				f, err := c.Next(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				printEvent(cmd.OutOrStdout(), f)
			}
		},
	}
	cmd.Flags().StringSliceVar(&events, "events", nil, `events to receive; a trailing "." matches a prefix (e.g. "followup.")`)
	return cmd
}

func printEvent(out io.Writer, f gateway.Frame) {
	var data map[string]any
	_ = json.Unmarshal(f.Payload, &data)
	var b strings.Builder
	for _, k := range []string{"sessionId", "mode", "handler", "reason", "error"} {
		if v, ok := data[k]; ok && v != "" {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	if m, ok := data["message"].(map[string]any); ok {
		fmt.Fprintf(&b, " %v: %q", m["sender"], m["text"])
	}
	if fu, ok := data["followUp"].(map[string]any); ok {
		fmt.Fprintf(&b, " tier=%v status=%v", fu["tier"], fu["status"])
	}
	if s, ok := data["session"].(map[string]any); ok {
		fmt.Fprintf(&b, " mode=%v stage=%v", s["mode"], s["stage"])
	}
	fmt.Fprintf(out, "%s %-22s%s\n", time.Now().Format("15:04:05"), f.Event, b.String())
}
