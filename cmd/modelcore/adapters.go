package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modelcore/internal/registry"
)

func newAdaptersCmd(o *options) *cobra.Command {
	var (
		workerType string
		models     bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List the builtin adapter catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := o.load(); err != nil {
				return err
			}
			r := registry.Builtin(nil)
			out := cmd.OutOrStdout()
			if models {
				rows := r.SupportedModels(workerType)
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(rows)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "MODEL\tPROVIDER\tWORKER\tADAPTER")
				for _, m := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Model, m.Provider, m.WorkerType, m.Adapter)
				}
				return tw.Flush()
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADAPTER\tPROVIDER\t4BIT\t8BIT\tSYSTEM\tMODELS")
			for _, a := range r.LLMAdapters() {
				c := a.Capabilities()
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\t%d\n", a.Name(), a.NewParams().Base().Provider,
					c.Support4Bit, c.Support8Bit, c.SupportSystemMessage, len(a.SupportedModels()))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&models, "models", false, "List supported models instead of adapters")
	cmd.Flags().StringVar(&workerType, "worker-type", "", "Filter models by worker type (llm|text2vec)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print models as JSON")
	return cmd
}
