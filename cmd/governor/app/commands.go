package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wippyhq/registry-governor/internal/governance"
	"github.com/wippyhq/registry-governor/internal/logger"
	pkgsync "github.com/wippyhq/registry-governor/internal/sync"
)

// oneShot wires a runtime, runs fn against the embedded client, then tears
// everything down. Flags bind to viper here, at execution time, so sibling
// commands sharing flag names never clobber each other.
func oneShot(fn func(ctx context.Context, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}
		logger.Initialize(viper.GetBool("debug"))
		defer logger.Sync()

		ctx := context.Background()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		return fn(ctx, rt)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to configuration file (YAML)")
	cmd.Flags().String("dir", "", "Override the sync directory")
	cmd.Flags().String("user", "", "User id for permission checks")
	cmd.Flags().Bool("debug", false, "Enable debug logging")
}

func syncOptions() map[string]any {
	options := map[string]any{}
	if dir := viper.GetString("dir"); dir != "" {
		options["directory"] = dir
	}
	return options
}

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show coordinator and registry status",
		RunE: oneShot(func(ctx context.Context, rt *runtime) error {
			state, err := rt.client.GetState(ctx)
			if err != nil {
				return err
			}
			renderState(state)
			return nil
		}),
	}
	addCommonFlags(cmd)
	return cmd
}

func newUploadCmd() *cobra.Command {
	var checkOnly bool
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Synchronize the source tree into the registry",
		RunE: oneShot(func(ctx context.Context, rt *runtime) error {
			options := syncOptions()
			if checkOnly {
				options["check_only"] = true
			}
			resp, err := rt.client.RequestUpload(ctx, options)
			if err != nil {
				return err
			}
			return renderResponse(resp)
		}),
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Report pending changes without applying")
	addCommonFlags(cmd)
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var noCleanup bool
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Materialize the registry into the source tree",
		RunE: oneShot(func(ctx context.Context, rt *runtime) error {
			options := syncOptions()
			if noCleanup {
				options["cleanup_orphaned"] = false
			}
			resp, err := rt.client.RequestDownload(ctx, options)
			if err != nil {
				return err
			}
			return renderResponse(resp)
		}),
	}
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "Skip orphan and empty-namespace removal")
	addCommonFlags(cmd)
	return cmd
}

func newApplyVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply-version <version-id>",
		Short: "Restore the registry to a historical version",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return oneShot(func(ctx context.Context, rt *runtime) error {
			resp, err := rt.client.RequestVersion(ctx, args[0], nil)
			if err != nil {
				return err
			}
			return renderResponse(resp)
		})(c, args)
	}
	addCommonFlags(cmd)
	return cmd
}

func newOrphansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List orphaned files in the source tree without removing them",
		RunE: oneShot(func(ctx context.Context, rt *runtime) error {
			d := pkgsync.NewDownloader(rt.store, rt.cfg)
			orphans, err := d.CheckOrphans(ctx, syncOptions())
			if err != nil {
				return err
			}
			if len(orphans) == 0 {
				fmt.Println("no orphaned files")
				return nil
			}
			for _, path := range orphans {
				fmt.Println(path)
			}
			return nil
		}),
	}
	addCommonFlags(cmd)
	return cmd
}

func renderState(state *governance.State) {
	table := tablewriter.NewTable(os.Stdout)
	table.Header("Field", "Value")
	_ = table.Append([]string{"registry.current_version", state.Registry.CurrentVersion})
	_ = table.Append([]string{"governance.status", state.Governance.Status})
	_ = table.Append([]string{"governance.operation_in_progress", strconv.FormatBool(state.Governance.OperationInProgress)})
	_ = table.Append([]string{"governance.current_operation", state.Governance.CurrentOperation})
	_ = table.Append([]string{"governance.last_operation_type", state.Governance.LastOperationType})
	_ = table.Append([]string{"changes.filesystem_changes_pending", strconv.FormatBool(state.Changes.FilesystemChangesPending)})
	_ = table.Append([]string{"changes.registry_changes_pending", strconv.FormatBool(state.Changes.RegistryChangesPending)})
	_ = table.Render()
}

func renderResponse(resp *governance.Response) error {
	if !resp.Success {
		for _, d := range resp.Details {
			fmt.Fprintf(os.Stderr, "  %s [%s]: %s\n", d.ID, d.Type, d.Message)
		}
		if resp.Error != "" {
			return fmt.Errorf("%s: %s", resp.Message, resp.Error)
		}
		return fmt.Errorf("%s", resp.Message)
	}

	fmt.Println(resp.Message)
	if resp.Version != "" {
		fmt.Printf("version: %s\n", resp.Version)
	}

	if len(resp.Stats) > 0 {
		table := tablewriter.NewTable(os.Stdout)
		table.Header("Stat", "Count")
		keys := make([]string, 0, len(resp.Stats))
		for k := range resp.Stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_ = table.Append([]string{k, strconv.Itoa(resp.Stats[k])})
		}
		_ = table.Render()
	}

	for _, d := range resp.Details {
		fmt.Printf("  %s [%s]: %s\n", d.ID, d.Type, d.Message)
	}
	return nil
}
