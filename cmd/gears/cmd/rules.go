package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/solatis/gears/internal/core/api"
	"github.com/solatis/gears/internal/core/auth"
	"github.com/solatis/gears/internal/core/config"
	"github.com/solatis/gears/internal/rules"
	"github.com/solatis/gears/internal/types"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Check and inspect rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check TITLE [DESCRIPTION_FILE|-]",
	Short: "Compile a rule without loading it",
	Long: `Compile a rule exactly as the loader would and report errors.

TITLE is the story title, e.g. 'when(entityType == "story")'. The description
holds the action in fenced code blocks and is read from a file or stdin.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRulesCheck,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules a running server has loaded",
	RunE:  runRulesList,
}

var rulesReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask a running server to reload rules now",
	RunE:  runRulesReload,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent rule runs recorded by a running server",
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(rulesCmd, runsCmd)
	rulesCmd.AddCommand(rulesCheckCmd, rulesListCmd, rulesReloadCmd)
	for _, c := range []*cobra.Command{rulesListCmd, rulesReloadCmd, runsCmd} {
		c.Flags().String("admin-addr", "", "admin API address (default admin.host:admin.port)")
		c.Flags().Duration("timeout", 30*time.Second, "request timeout")
	}
	runsCmd.Flags().Int("limit", 50, "number of runs to show")
	runsCmd.Flags().String("delivery", "", "only show runs caused by this delivery id")
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	title := args[0]
	var description string
	if len(args) == 2 {
		data, err := readInput(cmd, args[1])
		if err != nil {
			return err
		}
		description = string(data)
	}

	condition, action, ok := rules.Extract(title, description)
	if !ok {
		return fmt.Errorf("%w: title must look like when(<condition>)", types.ErrNotARule)
	}

	compiler := rules.NewCompiler(rules.NewRegistry(), nil, nil)
	if err := compiler.Check(condition, action); err != nil {
		return fmt.Errorf("rule does not compile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "condition: %s\n", condition)
	if strings.TrimSpace(action) == "" {
		fmt.Fprintln(out, "action: (empty)")
	} else {
		fmt.Fprintf(out, "action:\n%s\n", action)
	}
	fmt.Fprintln(out, "ok")
	return nil
}

// dialAdmin connects to the admin API and returns a context carrying the
// admin token.
func dialAdmin(cmd *cobra.Command) (*api.AdminClient, context.Context, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	addr, _ := cmd.Flags().GetString("admin-addr")
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect %s: %w", addr, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	if token := config.LoadSecrets().AdminToken; token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, auth.TokenMetadataKey, token)
	}
	return api.NewAdminClient(conn), ctx, func() {
		cancel()
		conn.Close()
	}, nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	client, ctx, done, err := dialAdmin(cmd)
	if err != nil {
		return err
	}
	defer done()

	resp, err := client.ListRules(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}

func runRulesReload(cmd *cobra.Command, args []string) error {
	client, ctx, done, err := dialAdmin(cmd)
	if err != nil {
		return err
	}
	defer done()

	resp, err := client.Reload(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}

func runRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	delivery, _ := cmd.Flags().GetString("delivery")
	client, ctx, done, err := dialAdmin(cmd)
	if err != nil {
		return err
	}
	defer done()

	resp, err := client.ListRuns(ctx, limit, delivery)
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}

func printJSON(cmd *cobra.Command, m proto.Message) error {
	raw, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return err
}
