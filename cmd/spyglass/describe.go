package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spyglass-rpc/spyglass/internal/domain"
	"github.com/spyglass-rpc/spyglass/internal/errs"
	"github.com/spyglass-rpc/spyglass/internal/reflection"
)

var flagDescribeTLS bool

var describeCmd = &cobra.Command{
	Use:   "describe <address> <service> <method>",
	Short: "Show the full request and response schema of a method",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		address, serviceName, methodName := args[0], args[1], args[2]

		sess, err := openSession(ctx, address, flagDescribeTLS)
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := sess.DiscoverOne(ctx, serviceName); err != nil {
			if reflection.SymbolUnknown(err) {
				return &errs.NotFoundError{Service: serviceName}
			}
			return err
		}
		svc, ok := sess.Registry().Service(serviceName)
		if !ok {
			return &errs.NotFoundError{Service: serviceName}
		}

		var method domain.Method
		found := false
		for _, m := range svc.Methods {
			if m.Name == methodName {
				method = m
				found = true
				break
			}
		}
		if !found {
			available := make([]string, 0, len(svc.Methods))
			for _, m := range svc.Methods {
				available = append(available, m.Name)
			}
			return &errs.NotFoundError{Service: serviceName, Method: methodName, Available: available}
		}

		input, err := sess.Registry().Describe(method.InputType, nil)
		if err != nil {
			return fmt.Errorf("request type: %w", err)
		}
		output, err := sess.Registry().Describe(method.OutputType, nil)
		if err != nil {
			return fmt.Errorf("response type: %w", err)
		}

		return printJSON(map[string]any{
			"method": method,
			"input":  input,
			"output": output,
		})
	},
}

func init() {
	describeCmd.Flags().BoolVar(&flagDescribeTLS, "tls", false, "connect with TLS")
}
