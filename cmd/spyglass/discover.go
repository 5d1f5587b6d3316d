package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spyglass-rpc/spyglass/internal/domain"
	"github.com/spyglass-rpc/spyglass/internal/reflection"
)

var (
	flagTLS  bool
	flagFull bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover <address>",
	Short: "List all services and methods an endpoint exposes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sess, err := openSession(ctx, args[0], flagTLS)
		if err != nil {
			return err
		}
		defer sess.Close()

		if !flagFull {
			if result, ok := sess.FastPath(ctx); ok {
				return printJSON(result)
			}
		}

		result, err := sess.DiscoverAll(ctx)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&flagTLS, "tls", false, "connect with TLS")
	discoverCmd.Flags().BoolVar(&flagFull, "full", false, "skip the fast path and fetch every descriptor")
}

func openSession(ctx context.Context, address string, useTLS bool) (*reflection.Session, error) {
	endpoint := domain.Endpoint{Address: address, TLS: useTLS}
	opts := reflection.Options{
		ProbeTimeout: cfg.ProbeTimeout,
		BatchSize:    cfg.DiscoveryBatchSize,
		CallTimeout:  cfg.CallTimeout,
	}
	return reflection.Open(ctx, endpoint, opts, logger)
}
