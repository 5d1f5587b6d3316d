package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spyglass-rpc/spyglass/internal/invoke"
)

var (
	flagCallTLS     bool
	flagCallData    string
	flagCallTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <address> <service> <method>",
	Short: "Invoke a unary method with JSON parameters",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		address, serviceName, methodName := args[0], args[1], args[2]

		var params map[string]any
		if flagCallData != "" {
			if err := json.Unmarshal([]byte(flagCallData), &params); err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}
		}

		timeout := cfg.CallTimeout
		if flagCallTimeout > 0 {
			timeout = flagCallTimeout
		}

		sess, err := openSession(ctx, address, flagCallTLS)
		if err != nil {
			return err
		}
		defer sess.Close()

		inv := invoke.New(sess.Transport(), sess.Registry(), sess, logger)
		inv.MaxRecoveryDepth = cfg.MaxRecoveryDepth

		result, err := inv.Invoke(ctx, serviceName, methodName, params, timeout)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	callCmd.Flags().BoolVar(&flagCallTLS, "tls", false, "connect with TLS")
	callCmd.Flags().StringVarP(&flagCallData, "data", "d", "", "request parameters as a JSON object")
	callCmd.Flags().DurationVar(&flagCallTimeout, "timeout", 0, "call deadline (overrides config)")
}
