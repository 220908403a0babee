// Command tavusctl creates and ends Tavus conversations from the shell and
// runs one-off orphan sweeps against the shared ledger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wolfman30/mockinterview/internal/app/bootstrap"
	appconfig "github.com/wolfman30/mockinterview/internal/config"
	"github.com/wolfman30/mockinterview/internal/history"
	"github.com/wolfman30/mockinterview/internal/ledger"
	"github.com/wolfman30/mockinterview/internal/tavusclient"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(appconfig.Load(), os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	cfg    *appconfig.Config
	out    io.Writer
	logger *logging.Logger
}

func newRootCmd(cfg *appconfig.Config, out io.Writer) *cobra.Command {
	c := &cli{cfg: cfg, out: out}

	root := &cobra.Command{
		Use:          "tavusctl",
		Short:        "Manage Tavus interview conversations",
		SilenceUsage: true,
	}
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		c.logger = logging.NewWithWriter(cmd.ErrOrStderr(), c.cfg.LogLevel)
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&cfg.TavusAPIKey, "api-key", cfg.TavusAPIKey, "Tavus API key (defaults to TAVUS_API_KEY)")
	root.PersistentFlags().StringVar(&cfg.TavusBaseURL, "base-url", cfg.TavusBaseURL, "Tavus API base URL")

	root.AddCommand(c.createCmd(), c.endCmd(), c.sweepCmd())
	return root
}

func (c *cli) client() *tavusclient.Client {
	return bootstrap.BuildTavusClient(c.cfg, c.logger)
}

func (c *cli) createCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a conversation with the configured persona",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := bootstrap.InterviewDefaults(c.cfg, nil, nil, c.logger).Request
			if name != "" {
				req.ConversationName = name
			}
			conv, err := c.client().Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.out)
			enc.SetIndent("", "  ")
			return enc.Encode(conv)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "conversation name (defaults to INTERVIEW_CONVERSATION_NAME)")
	return cmd
}

func (c *cli) endCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <conversation-id>",
		Short: "End a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client().End(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "ended %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "End conversations whose API instance stopped heartbeating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rdb := bootstrap.BuildRedisClient(cmd.Context(), c.cfg, c.logger, true)
			if rdb == nil {
				return errors.New("sweep needs a reachable REDIS_ADDR")
			}
			defer rdb.Close()

			// tavusctl never owns conversations, so it never heartbeats.
			l := ledger.NewRedisLedger(rdb, "tavusctl", c.cfg.InstanceHeartbeatTTL)
			sweeper := ledger.NewSweeper(l, c.client(), c.logger)
			if pool := bootstrap.BuildPostgresPool(cmd.Context(), c.cfg.DatabaseURL, c.logger); pool != nil {
				defer pool.Close()
				sweeper = sweeper.WithTracker(history.NewStore(pool))
			}
			ended := sweeper.SweepOnce(cmd.Context())
			fmt.Fprintf(c.out, "ended %d orphaned conversation(s)\n", ended)
			return nil
		},
	}
}
