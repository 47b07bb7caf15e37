package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLookupCommand(ctx *commandContext) *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "lookup <title>",
		Short: "Look up the rating of one title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := ctx.newServer()
			if err != nil {
				return err
			}
			defer stopQuietly(srv.Service().Close)

			r, err := srv.Service().RequestOne(cmd.Context(), args[0], year)
			if err != nil {
				return fmt.Errorf("lookup %q: %w", args[0], err)
			}
			if r == nil {
				return fmt.Errorf("no rating found for %q", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Release year to disambiguate the title")
	return cmd
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <title>...",
		Short: "Look up several titles in one coalesced request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := ctx.newServer()
			if err != nil {
				return err
			}
			defer stopQuietly(srv.Service().Close)

			results := srv.Service().RequestMany(cmd.Context(), args)
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check connectivity to the lookup service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := ctx.newServer()
			if err != nil {
				return err
			}
			defer stopQuietly(srv.Service().Close)

			st := srv.Monitor().Check()
			if err := writeJSON(cmd.OutOrStdout(), st); err != nil {
				return err
			}
			if !st.Connected {
				return fmt.Errorf("lookup service unreachable: %s", st.Error)
			}
			return nil
		},
	}
}

func stopQuietly(closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = closeFn(ctx)
}
