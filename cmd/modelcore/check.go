package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that every configured local engine can be started",
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
			r := mgr.SanityCheck()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(r); err != nil {
				return err
			}
			if !r.OK {
				return fmt.Errorf("missing engine dependencies")
			}
			return nil
		},
	}
}
