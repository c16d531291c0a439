// plb — automated load balancer for Proxmox clusters.
//
// Watches per-host RAM and CPU utilization, detects imbalance or resource
// exhaustion risk, and live-migrates guests between hosts until the
// cluster converges toward a balanced state.
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yourusername/plb/internal/balancer"
	"github.com/yourusername/plb/internal/cluster"
	"github.com/yourusername/plb/internal/config"
	"github.com/yourusername/plb/internal/history"
	"github.com/yourusername/plb/internal/notify"
	"github.com/yourusername/plb/internal/proxmox"
	"github.com/yourusername/plb/internal/ui"
)

var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "plb",
		Short: "Automated load balancer for Proxmox clusters",
		Long: `plb keeps a Proxmox cluster balanced by live-migrating guests
between hosts. It watches RAM and CPU utilization, scores each host's
deviation from the cluster average, and picks the single migration that
improves the balance most, one move per iteration.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the balancing control loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := setup()
			if err != nil {
				return err
			}

			var hist *history.Store
			if cfg.History.On() {
				hist, err = history.Open(cfg.History.Path)
				if err != nil {
					return err
				}
				defer hist.Close()
			}

			fmt.Println("========================================")
			fmt.Println("        Proxmox Load Balancer")
			if cfg.Parameters.TestMode.On() {
				fmt.Println("          [TEST MODE ACTIVE]")
			}
			fmt.Println("========================================")

			notifier := notify.NewNotifier(cfg.Mail)
			engine := balancer.NewEngine(cfg, client, notifier, hist)
			return engine.Run()
		},
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Analyze the cluster once and print the migrations it would make",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := setup()
			if err != nil {
				return err
			}
			if err := client.Authenticate(); err != nil {
				return fmt.Errorf("authentication: %w", err)
			}

			snap, err := cluster.NewBuilder(client, cfg).Build()
			if err != nil {
				return err
			}
			cluster.NewTrendSampler(client).Sample(snap)
			risk := balancer.EvaluateRisk(snap, cfg.Balancing)
			triggered := balancer.NewDetector(cfg).Detect(snap)
			variants := balancer.NewPlanner(cfg).Plan(snap)

			fmt.Printf("Cluster %s: %d nodes included, RAM load %.2f%%, CPU load %.2f%%\n",
				snap.Name, len(snap.IncludedNodes), snap.MemLoadIncluded*100, snap.ClCPULoadIncluded*100)
			fmt.Printf("Sum of deviations: %.4f, trigger: %v, OOM risk: %v, CPU risk: %v\n",
				snap.SumDeviations(), triggered, risk.OOM, risk.CPU)
			if len(variants) == 0 {
				fmt.Println("No beneficial migrations found.")
				return nil
			}
			for _, v := range variants {
				fmt.Printf("  guest %d: %s -> %s (projected deviation %.4f)\n",
					v.VMID, v.Donor, v.Recipient, v.ProjectedTotal)
			}
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Interactive cluster dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := setup()
			if err != nil {
				return err
			}
			if err := client.Authenticate(); err != nil {
				return fmt.Errorf("authentication: %w", err)
			}
			return ui.Run(cfg, client)
		},
	}

	var historyLimit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent migration attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			hist, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer hist.Close()

			records, err := hist.RecentMigrations(historyLimit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No migrations recorded yet.")
				return nil
			}
			for _, rec := range records {
				detail := ""
				if rec.Detail != "" {
					detail = " (" + rec.Detail + ")"
				}
				fmt.Printf("%s  guest %d  %s -> %s  %s%s\n",
					rec.At.Format("2006-01-02 15:04:05"), rec.VMID, rec.Donor, rec.Recipient, rec.Outcome, detail)
			}
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")

	rootCmd.AddCommand(runCmd, planCmd, statusCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the logging level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := logrus.ParseLevel(cfg.LoggingLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid logging_level %q: %w", cfg.LoggingLevel, err)
	}
	logrus.SetLevel(level)
	return cfg, nil
}

// setup loads the configuration and builds an API client, prompting for
// the password when the config omits it.
func setup() (*config.Config, *proxmox.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	password := cfg.Proxmox.Auth.Password
	if password == "" {
		fmt.Printf("Password for %s: ", cfg.APIUser())
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return nil, nil, fmt.Errorf("reading password: %w", err)
		}
		password = string(raw)
	}

	client := proxmox.NewClient(cfg.BaseURL(), cfg.APIUser(), password)
	return cfg, client, nil
}
