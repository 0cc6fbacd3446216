package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/soyeahso/closer/internal/config"
	"github.com/soyeahso/closer/internal/gateway"
	"github.com/soyeahso/closer/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show closer status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "closer %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:    %s\n", paths.Config)
			fmt.Fprintf(out, "Data:      %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:      %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(out, "Config:    not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:    error loading: %v\n", err)
				return nil
			}
			writeStatus(cmd.Context(), out, cfg)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}
	return cmd
}

func writeStatus(ctx context.Context, out io.Writer, cfg config.Config) {
	fmt.Fprintf(out, "Gateway:   port=%d bind=%s auth=%s tls=%v\n",
		cfg.Gateway.Port, cfg.Gateway.Bind, gateway.ResolveAuth(cfg.Gateway.Auth).Mode, cfg.Gateway.TLS.Enabled)
	fmt.Fprintf(out, "Running:   %s\n", checkGateway(ctx, cfg.Gateway))

	storeDesc := cfg.Store.Driver
	if cfg.Store.Driver != "memory" {
		db := paths.Database(cfg.Store)
		storeDesc += " " + db
		if fi, err := os.Stat(db); err == nil {
			storeDesc += " (" + humanize.Bytes(uint64(fi.Size())) + ")"
		}
	}
	fmt.Fprintf(out, "Store:     %s\n", storeDesc)
	fmt.Fprintf(out, "Session:   scope=%s\n", cfg.Session.Scope)

	signalsDesc := cfg.Providers.Kind
	if cfg.Providers.Kind == "llm" {
		signalsDesc += fmt.Sprintf(" provider=%s model=%s", cfg.LLM.Provider, cfg.LLM.Model)
		if len(cfg.LLM.Fallbacks) > 0 {
			signalsDesc += " fallbacks=" + strings.Join(cfg.LLM.Fallbacks, ",")
		}
	}
	fmt.Fprintf(out, "Signals:   %s timeout=%s\n", signalsDesc, cfg.Providers.Timeout)

	delays := make([]string, len(cfg.FollowUp.Delays))
	for i, d := range cfg.FollowUp.Delays {
		delays[i] = d.String()
	}
	fmt.Fprintf(out, "Follow-up: delays=%s sweep=%q workers=%d\n",
		strings.Join(delays, ","), cfg.Scheduler.Sweep, cfg.Scheduler.Workers)

	if irc := cfg.Channels.IRC; irc != nil {
		fmt.Fprintf(out, "IRC:       server=%s nick=%s channels=%s tls=%v\n",
			irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
	} else {
		fmt.Fprintln(out, "IRC:       (not configured)")
	}
	if cfg.Product.Name != "" {
		fmt.Fprintf(out, "Product:   %s %s\n", cfg.Product.Name, cfg.Product.Price)
	}
}

// checkGateway asks a local gateway for its health.
func checkGateway(ctx context.Context, cfg config.GatewayConfig) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	u := strings.Replace(gatewayURL(cfg), "ws", "http", 1)
	u = strings.TrimSuffix(u, "/ws") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "unknown"
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "no"
	}
	defer resp.Body.Close()
	var h gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Sprintf("yes (HTTP %d)", resp.StatusCode)
	}
	return fmt.Sprintf("yes (%s)", h.Status)
}
