package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/flowrunner/internal/flow"
)

func buildValidateCmd() *cobra.Command {
	var flowPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile a flow definition and report validation warnings and errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(flowPath)
			if err != nil {
				return fmt.Errorf("read flow: %w", err)
			}
			f, err := flow.LoadYAML(data)
			if err != nil {
				return fmt.Errorf("parse flow: %w", err)
			}

			compiled, err := flow.Compile(f)
			out := cmd.OutOrStdout()
			if compiled != nil {
				for _, w := range compiled.ValidationWarnings {
					fmt.Fprintf(out, "WARNING [%s] node=%s: %s\n", w.Code, w.NodeID, w.Message)
				}
			}
			if err != nil {
				fmt.Fprintf(out, "FAILED: %v\n", err)
				return err
			}
			fmt.Fprintf(out, "OK: flow %q compiled with %d node(s), entry=%s\n",
				f.ID, len(compiled.Nodes), compiled.Entry)
			return nil
		},
	}
	cmd.Flags().StringVar(&flowPath, "flow", "", "Path to the flow YAML definition (required)")
	cmd.MarkFlagRequired("flow")
	return cmd
}
