package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"dagback/internal/app"
	"dagback/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). operation identifies the CLI command being run, and is
// used only to tag log lines.
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(context.Background(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// promptPassphrase reads a passphrase from the controlling terminal
// without echoing it.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:   "dagback",
	Short: "Content-addressed, encrypted personal backup tool",
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and generate an age key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		passphrase, err := promptPassphrase("Set a passphrase for the private key: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases did not match")
		}

		a, err := app.New(context.Background(), cfg, "SetupCrypto")
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		if err := a.SetupCrypto(passphrase); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:  %s\n", cfg.HostID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Backend:  %s\n", cfg.Backend.Type)
		for _, r := range cfg.Roots {
			fmt.Printf("Root:     %s -> %s\n", r.Name, r.Path)
		}
		return nil
	},
}

// dir command

var dirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Manage tracked roots",
}

var dirAddCmd = &cobra.Command{
	Use:   "add NAME PATH",
	Short: "Track a new root directory under NAME",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		a, err := newApp("AddRoot")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddRoot(defaults["config_path"], args[0], args[1]); err != nil {
			return fmt.Errorf("tracking directory: %w", err)
		}

		fmt.Printf("Tracking root %q at %s\n", args[0], args[1])
		return nil
	},
}

// scan command

var scanCmd = &cobra.Command{
	Use:   "scan ROOT",
	Short: "Bring the Files Cache up to date with the filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Scan(context.Background(), args[0]); err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		fmt.Printf("Scanned root %q\n", args[0])
		return nil
	},
}

// backup command

var backupCmd = &cobra.Command{
	Use:   "backup ROOT SNAPSHOT",
	Short: "Scan, walk, and upload ROOT, recording it as SNAPSHOT",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.Backup(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Backed up %q as snapshot %q (%x)\n", args[0], snap.Name, snap.RootTreeOID)
		return nil
	},
}

// snapshot command

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListSnapshots")
		if err != nil {
			return err
		}
		defer a.Close()

		snaps, err := a.ListSnapshots(context.Background())
		if err != nil {
			return err
		}

		if len(snaps) == 0 {
			fmt.Println("No snapshots recorded.")
			return nil
		}

		for _, s := range snaps {
			fmt.Printf("%-20s  %s  %x\n", s.Name, s.RootPath, s.RootTreeOID)
		}
		return nil
	},
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune NAME",
	Short: "Remove a snapshot from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("PruneSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.PruneSnapshot(context.Background(), args[0]); err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}

		fmt.Printf("Pruned snapshot %q\n", args[0])
		return nil
	},
}

// gc command

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete objects unreachable from any snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RunGC")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.RunGC(context.Background())
		if err != nil {
			return fmt.Errorf("gc failed: %w", err)
		}

		fmt.Printf("Live objects: %d, deleted: %d, delete failures: %d\n",
			result.LiveObjects, result.Deleted, result.DeleteFailures)
		return nil
	},
}

// restore command

var restoreCmd = &cobra.Command{
	Use:   "restore SNAPSHOT",
	Short: "Reconstruct a snapshot's tree onto disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("out")

		a, err := newApp("Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := promptPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}

		if err := a.Restore(context.Background(), args[0], passphrase, outDir); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored snapshot %q to %s\n", args[0], outDir)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	dirCmd.AddCommand(dirAddCmd)

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().String("out", ".", "Directory to restore into")
}
