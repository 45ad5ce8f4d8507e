package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/clusterrun/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the cluster config file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if path == "" {
				return fmt.Errorf("cannot determine config path; pass --path")
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}

			cfg := config.DefaultConfig()
			cfg.Cluster.Nodes = []string{"node1.example.com", "node2.example.com"}
			cfg.Groups["web"] = config.Group{
				Nodes:   []string{"web1.example.com", "web2.example.com"},
				Timeout: config.Duration{Duration: 30 * time.Second},
			}

			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote starter config to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "where to write the config (default: resolved config path)")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if path == "" {
				return fmt.Errorf("cannot determine config path")
			}
			fmt.Println(path)
			return nil
		},
	}
}
