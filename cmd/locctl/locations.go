package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"locstore/pkg/client"
	"locstore/pkg/model"
)

func locationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "Location metadata operations",
		Long:  "Read and write global content location records",
	}

	cmd.AddCommand(locationsGetCmd())
	cmd.AddCommand(locationsRegisterCmd())
	cmd.AddCommand(locationsTouchCmd())
	cmd.AddCommand(locationsUnregisterCmd())

	return cmd
}

func newClient() (*client.Client, context.Context, context.CancelFunc) {
	c := client.New(model.MachineLocation(serverAddr), time.Duration(timeout)*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	return c, ctx, cancel
}

func toHashes(args []string) []model.ContentHash {
	hashes := make([]model.ContentHash, 0, len(args))
	for _, a := range args {
		hashes = append(hashes, model.ContentHash(a))
	}
	return hashes
}

func locationsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <hash> [hash...]",
		Short: "Look up the machines holding each hash",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := newClient()
			defer cancel()

			entries, err := c.GetBulk(ctx, toHashes(args))
			if err != nil {
				return err
			}

			for _, e := range entries {
				if !e.Found() {
					fmt.Printf("%s\t(not found)\n", e.Hash)
					continue
				}
				locs := make([]string, 0, len(e.Locations))
				for _, l := range e.Locations {
					locs = append(locs, string(l))
				}
				fmt.Printf("%s\t%d\t%s\n", e.Hash, e.Size, strings.Join(locs, ","))
			}
			return nil
		},
	}
}

func locationsRegisterCmd() *cobra.Command {
	var machine string

	cmd := &cobra.Command{
		Use:   "register <hash> <size>",
		Short: "Register a hash as present on a machine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid size %q: %w", args[1], err)
			}
			if machine == "" {
				return fmt.Errorf("--machine is required")
			}

			c, ctx, cancel := newClient()
			defer cancel()

			entry := model.Entry{Hash: model.ContentHash(args[0]), Size: size}
			if err := c.Register(ctx, model.MachineLocation(machine), []model.Entry{entry}); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}

	cmd.Flags().StringVar(&machine, "machine", "", "Machine address the content lives on")

	return cmd
}

func locationsTouchCmd() *cobra.Command {
	var machine string

	cmd := &cobra.Command{
		Use:   "touch <hash> [hash...]",
		Short: "Bump the last access time of hashes on a machine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if machine == "" {
				return fmt.Errorf("--machine is required")
			}

			c, ctx, cancel := newClient()
			defer cancel()

			if err := c.Touch(ctx, model.MachineLocation(machine), toHashes(args)); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}

	cmd.Flags().StringVar(&machine, "machine", "", "Machine address the content lives on")

	return cmd
}

func locationsUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <hash> [hash...]",
		Short: "Drop hashes from the global store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := newClient()
			defer cancel()

			if err := c.Unregister(ctx, toHashes(args)); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}
