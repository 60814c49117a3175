package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"locstore/pkg/client"
	"locstore/pkg/model"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(model.MachineLocation(serverAddr), time.Duration(timeout)*time.Second)
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			defer cancel()

			st, err := c.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Machine: %s\n", st.Machine)
			fmt.Printf("Role:    %s\n", st.Role)
			if st.Master == "" {
				fmt.Println("Master:  (none)")
			} else {
				fmt.Printf("Master:  %s\n", st.Master)
			}
			return nil
		},
	}
}

func masterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "master",
		Short: "Print the current master address",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(model.MachineLocation(serverAddr), time.Duration(timeout)*time.Second)
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			defer cancel()

			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if st.Master == "" {
				return fmt.Errorf("no master elected")
			}
			fmt.Println(st.Master)
			return nil
		},
	}
}
