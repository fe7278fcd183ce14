package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/workforce-oss/workforce-sub002/internal/config"
)

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and build every configured object",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var errs []error
			for _, obj := range cfg.Objects {
				live, err := newObject(cfg, obj)
				if err != nil {
					fmt.Fprintf(out, "%s %s %s: %v\n", failure("fail"), obj.Kind, obj.Name, err)
					errs = append(errs, err)
					continue
				}
				_ = live.Destroy(context.Background())
				fmt.Fprintf(out, "%s %s %s\n", success("ok"), obj.Kind, obj.Name)
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d objects\n", success("valid"), len(cfg.Objects))
			return nil
		},
	}
}
