package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/triggercut/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetHistory bool
	resetOutputs string
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (run history, batch outputs)",
	Long:  "Drops the run history tables (--history, the default). With --outputs, deletes the edited_* files a batch wrote to that directory.",
	Run: func(cmd *cobra.Command, args []string) {
		// Without --outputs the only thing to clear is the database
		if resetOutputs == "" {
			resetHistory = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetHistory {
			if err := requireDB(); err != nil {
				utils.Die("Cannot reset run history", err, nil)
			}
			if resetYes || confirm(os.Stdout, reader, "⚠️  Are you sure you want to DROP all run history tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetOutputs != "" {
			if resetYes || confirm(os.Stdout, reader, fmt.Sprintf("⚠️  Are you sure you want to delete all edited_* videos in %s?", resetOutputs)) {
				fmt.Println("🗑️  Clearing Output Videos...")
				n := removeOutputs(os.Stderr, resetOutputs)
				fmt.Printf("   removed %d file(s)\n", n)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetHistory, "history", false, "Clear PostgreSQL run history")
	resetCmd.Flags().StringVar(&resetOutputs, "outputs", "", "Delete batch outputs (edited_*) from this directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(w io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeOutputs deletes the files a batch writes to dir and returns how many
// were removed. Failures are reported to w.
func removeOutputs(w io.Writer, dir string) int {
	matches, err := filepath.Glob(filepath.Join(dir, "edited_*"))
	if err != nil {
		fmt.Fprintf(w, "⚠️  Failed to list %s: %v\n", dir, err)
		return 0
	}
	removed := 0
	for _, path := range matches {
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(w, "⚠️  Failed to remove %s: %v\n", path, err)
			continue
		}
		removed++
	}
	return removed
}
