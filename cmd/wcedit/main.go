// cmd/wcedit/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	wcerrors "wcedit/internal/errors"
	"wcedit/internal/logging"
	"wcedit/internal/wc"
	"wcedit/internal/wcconfig"
	shared "wcedit/shared/types"
)

var rootLogger, _ = logging.NewLogger("info")
var logger = rootLogger.Logger

var rootCmd = &cobra.Command{
	Use:   "wcedit",
	Short: "wcedit drives a working-copy update editor against a local admin area",
	Long: `wcedit applies tree-delta callbacks to a working copy through a
crash-safe journaled log, three-way merge, and reference-counted directory
completion tracking — the mechanics svn's update editor uses, driven here
from a local fixture tree instead of a repository connection.`,
}

func init() {
	var targetRevision int64

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new working copy's administrative area",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			wcp, err := wc.Open(dir, wcconfig.Default(), logger)
			if err != nil {
				return fmt.Errorf("initializing working copy: %w", err)
			}
			defer wcp.Close()

			fmt.Println("Initialized working copy admin area in", filepath.Join(dir, wcp.Config.AdminDirName))
			return nil
		},
	}

	var updateCmd = &cobra.Command{
		Use:   "update <fixture-dir>",
		Short: "Drive the editor through a fixture tree standing in for the next revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			ctx := logging.WithEditID(context.Background(), uuid.New().String())
			editLogger := rootLogger.WithEditID(ctx)

			wcp, err := wc.Open(dir, wcconfig.Default(), editLogger)
			if err != nil {
				return fmt.Errorf("opening working copy: %w", err)
			}
			defer wcp.Close()

			if err := wcp.Lock.Acquire(dir); err != nil {
				return fmt.Errorf("locking working copy: %w", err)
			}
			defer wcp.Lock.Release(dir)

			ec := wcp.NewEditContext(dir, "", targetRevision, consoleNotifier{})
			editor := wc.NewEditor(ec)

			if err := wc.DriveFixture(ctx, editor, args[0]); err != nil {
				return reportEditorError(err)
			}

			return nil
		},
	}
	updateCmd.Flags().Int64Var(&targetRevision, "revision", 1, "revision number to record for the applied fixture")

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Report entries still marked incomplete",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			wcp, err := wc.Open(dir, wcconfig.Default(), logger)
			if err != nil {
				return fmt.Errorf("opening working copy: %w", err)
			}
			defer wcp.Close()

			incomplete, err := collectIncomplete(wcp, dir)
			if err != nil {
				return fmt.Errorf("collecting status: %w", err)
			}

			if len(incomplete) == 0 {
				fmt.Println("No incomplete entries (working copy consistent)")
				return nil
			}

			yellow := color.New(color.FgYellow).SprintFunc()
			for _, path := range incomplete {
				fmt.Printf("%s %s\n", yellow("!"), path)
			}
			return nil
		},
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(statusCmd)
}

// collectIncomplete walks every directory under root that has recorded
// entries and lists the paths still carrying the incomplete flag — a
// this-dir entry means the directory itself was never closed; a child
// entry means it was opened or added but never closed.
func collectIncomplete(wcp *wc.WorkingCopy, root string) ([]string, error) {
	var incomplete []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == wcp.Config.AdminDirName {
			return filepath.SkipDir
		}

		m, rerr := wcp.Entries.ReadDir(path)
		if rerr != nil {
			return rerr
		}
		for name, e := range m {
			if !e.Incomplete {
				continue
			}
			if name == shared.ThisDir {
				incomplete = append(incomplete, path)
				continue
			}
			incomplete = append(incomplete, filepath.Join(path, name))
		}
		return nil
	})

	return incomplete, err
}

// consoleNotifier prints one colorized line per notification, mirroring
// svn's update status column: A/D/U/G/C for add/delete/update/merge/conflict.
type consoleNotifier struct{}

func (consoleNotifier) Notify(n shared.Notification) {
	if n.Action == shared.NotifyCompleted {
		fmt.Printf("Updated to revision %d.\n", n.Revision)
		return
	}

	letter, paint := notifyGlyph(n)
	fmt.Printf("%s %s\n", paint(letter), n.Path)
}

func notifyGlyph(n shared.Notification) (string, func(a ...interface{}) string) {
	switch {
	case n.Action == shared.NotifyAdd:
		return "A", color.New(color.FgGreen).SprintFunc()
	case n.Action == shared.NotifyDelete:
		return "D", color.New(color.FgRed).SprintFunc()
	case n.ContentState == shared.StateConflicted || n.PropState == shared.StateConflicted:
		return "C", color.New(color.FgRed, color.Bold).SprintFunc()
	case n.ContentState == shared.StateMerged || n.PropState == shared.StateMerged:
		return "G", color.New(color.FgMagenta).SprintFunc()
	default:
		return "U", color.New(color.FgCyan).SprintFunc()
	}
}

func reportEditorError(err error) error {
	var wcErr *wcerrors.Error
	if e, ok := err.(*wcerrors.Error); ok {
		wcErr = e
	}
	if wcErr != nil {
		fmt.Fprintf(os.Stderr, "wcedit: %s: %s\n", wcErr.Type, wcErr.Message)
		os.Exit(wcErr.Code)
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
