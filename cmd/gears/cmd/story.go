package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/solatis/gears/internal/recordsource/sqlstore"
	"github.com/solatis/gears/internal/types"
)

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Manage stories in the SQL story store",
}

var storyAddCmd = &cobra.Command{
	Use:   "add NAME [DESCRIPTION_FILE|-]",
	Short: "Add a story, typically a rule, to the SQL story store",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runStoryAdd,
}

var storyArchiveCmd = &cobra.Command{
	Use:   "archive ID",
	Short: "Archive a story so it no longer defines a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoryArchive,
}

func init() {
	rootCmd.AddCommand(storyCmd)
	storyCmd.AddCommand(storyAddCmd, storyArchiveCmd)
	storyAddCmd.Flags().StringSlice("label", nil, "labels to attach (default rules.label)")
	storyAddCmd.Flags().String("type", "chore", "story type")
}

func runStoryAdd(cmd *cobra.Command, args []string) error {
	var description string
	if len(args) == 2 {
		data, err := readInput(cmd, args[1])
		if err != nil {
			return err
		}
		description = string(data)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	labels, _ := cmd.Flags().GetStringSlice("label")
	if len(labels) == 0 {
		labels = []string{cfg.Rules.Label}
	}
	storyType, _ := cmd.Flags().GetString("type")

	queries, closeDB, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	store := sqlstore.New(queries, sqlstore.WithAppURL(cfg.Source.AppURL))
	story, err := store.Create(cmd.Context(), types.Story{
		Name:        args[0],
		Description: description,
		StoryType:   storyType,
	}, labels...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created story %d %s\n", story.ID, story.AppURL)
	return nil
}

func runStoryArchive(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid story id %q", args[0])
	}
	queries, closeDB, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := sqlstore.New(queries).Archive(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "archived story %d\n", id)
	return nil
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
