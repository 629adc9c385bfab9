package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"modelcore/pkg/types"
)

func newGenerateCmd(o *options) *cobra.Command {
	var (
		model       string
		system      string
		temperature float64
		maxTokens   int
		stop        []string
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one prompt against a deployment and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			mgr, err := newManager(cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			req := &types.ModelRequest{Model: model, MaxNewTokens: maxTokens, Stop: stop}
			if system != "" {
				req.Messages = append(req.Messages, types.NewMessage(types.RoleSystem, system))
			}
			req.Messages = append(req.Messages, types.NewMessage(types.RoleHuman, strings.Join(args, " ")))
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			ch, err := mgr.GenerateStream(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var last types.ModelOutput
			for delta := range ch {
				// Outputs are cumulative; print only the new suffix.
				if strings.HasPrefix(delta.Text, last.Text) {
					fmt.Fprint(out, delta.Text[len(last.Text):])
				} else {
					fmt.Fprint(out, "\n", delta.Text)
				}
				last = delta
			}
			fmt.Fprintln(out)
			if !last.Success() {
				return fmt.Errorf("generation failed (error_code=%d)", last.ErrorCode)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&model, "model", "", "Deployment name (defaults to default_model)")
	f.StringVar(&system, "system", "", "Optional system message")
	f.Float64Var(&temperature, "temperature", 0.7, "Sampling temperature")
	f.IntVar(&maxTokens, "max-new-tokens", 0, "Maximum new tokens (0 = engine default)")
	f.StringSliceVar(&stop, "stop", nil, "Stop sequences")
	return cmd
}
