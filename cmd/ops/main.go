package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atsukotakahashi/ops/internal/machine"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagConfig     string
	flagState      string
	flagKnownHosts string
	flagKeyDir     string
	flagBuildCmd   []string
	flagCheck      bool
	flagForget     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ops",
	Short: "ops - declarative virtual machine reconciliation",
	Long: `ops reconciles declarative machine definitions against the machines
actually provisioned on a hypervisor backend.

Provisioning is idempotent and resumable: every completed step is
committed to the state file before the next one runs, so an interrupted
create continues where it left off.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "deployment.yaml", "deployment document")
	rootCmd.PersistentFlags().StringVarP(&flagState, "state", "s", "ops-state.yaml", "state file")
	rootCmd.PersistentFlags().StringVar(&flagKnownHosts, "known-hosts", "", "known_hosts file for trust records (default ~/.ssh/known_hosts)")
	rootCmd.PersistentFlags().StringVar(&flagKeyDir, "key-dir", "", "directory for materialised key files (default alongside the state file)")
	rootCmd.PersistentFlags().StringSliceVar(&flagBuildCmd, "build-command", nil, "external command resolving base image build references")

	createCmd.Flags().BoolVar(&flagCheck, "check", false, "re-validate observed backend state against the record")
	destroyCmd.Flags().BoolVar(&flagForget, "forget", false, "also remove the machine's state record")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(statusCmd)
}

var createCmd = &cobra.Command{
	Use:   "create <machine>",
	Short: "Create a machine and drive it to running",
	Long: `Create provisions the named machine from its definition: allocate the
backend resource, clone and attach its disk, generate credentials, start
it, and wait for its private address.

Re-running create resumes at the first unsatisfied step.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(args[0])
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.machine.Create(context.Background(), env.defn, flagCheck); err != nil {
			return fmt.Errorf("failed to create machine: %w", err)
		}
		fmt.Printf("machine %q is running at %s\n", args[0], env.machine.Store.State().PrivateAddress)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <machine>",
	Short: "Start a stopped machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(args[0])
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.machine.Start(context.Background(), env.defn.Headless); err != nil {
			return fmt.Errorf("failed to start machine: %w", err)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <machine>",
	Short: "Gracefully stop a running machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(args[0])
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.machine.Stop(context.Background()); err != nil {
			return fmt.Errorf("failed to stop machine: %w", err)
		}
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <machine>",
	Short: "Destroy a machine and its storage",
	Long: `Destroy powers the machine off if needed, waits for the backend to
reach a terminal state, and deletes the resource together with its
attached storage. The state record is cleared; with --forget it is
removed from the state file entirely.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(args[0])
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.machine.Destroy(context.Background()); err != nil {
			return fmt.Errorf("failed to destroy machine: %w", err)
		}
		if flagForget {
			if err := env.machine.Store.Remove(); err != nil {
				return err
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <machine>",
	Short: "Show persisted and observed machine state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(args[0])
		if err != nil {
			return err
		}
		defer env.close()

		st := env.machine.Store.State()
		observed := machine.StateUnknown
		if st.ResourceID != "" {
			observed, err = env.machine.Status(context.Background())
			if err != nil {
				return err
			}
		}

		fmt.Printf("machine:    %s\n", args[0])
		fmt.Printf("backend:    %s\n", env.defn.Backend)
		fmt.Printf("resource:   %s\n", orUnset(st.ResourceID))
		fmt.Printf("address:    %s\n", orUnset(st.PrivateAddress))
		fmt.Printf("disk:       %s\n", orUnset(st.DiskPath))
		fmt.Printf("started:    %t\n", st.Started)
		fmt.Printf("observed:   %s\n", observed)
		return nil
	},
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
