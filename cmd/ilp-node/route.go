package main

import (
	"context"
	"fmt"

	"ilpconnector/internal/config"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func routeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "route"}
	cmd.AddCommand(routeShowCmd())
	return cmd
}

func routeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "dump the effective routing table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			env, _ := cmd.Flags().GetString("env")
			cfg, err := config.Load(env)
			if err != nil {
				return fmt.Errorf("ilp-node: load config: %w", err)
			}

			n, err := buildNode(cfg, logrus.New())
			if err != nil {
				return err
			}

			table, err := n.store.RoutingTable(context.Background())
			if err != nil {
				return fmt.Errorf("ilp-node: load routing table: %w", err)
			}
			for _, route := range table.Routes {
				fmt.Printf("%-40s -> %s\n", route.Prefix, route.AccountID)
			}
			return nil
		},
	}
	cmd.Flags().String("env", "", "environment overlay to merge over config/default.yaml")
	return cmd
}
