package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/clock/system"
	"github.com/JakeFAU/fotopedia-grab/internal/config"
	"github.com/JakeFAU/fotopedia-grab/internal/fetch"
	"github.com/JakeFAU/fotopedia-grab/internal/hash/sha1"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/planner"
	"github.com/JakeFAU/fotopedia-grab/internal/workspace"
)

func newPlanCmd() *cobra.Command {
	var binary string
	cmd := &cobra.Command{
		Use:   "plan <identifier>",
		Short: "Print the capture plan for an identifier without running anything",
		Long: `Resolves an identifier into its URL list and domain allow-list and prints the
full fetch tool command line a worker would run for it. Nothing is fetched and no
directory is created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if binary == "" {
				binary = cfg.Fetch.Binaries[0]
			}
			return printPlan(cmd.OutOrStdout(), cfg, binary, args[0])
		},
	}
	cmd.Flags().StringVar(&binary, "binary", "", "fetch tool path to show (default: first configured candidate)")
	return cmd
}

func printPlan(w io.Writer, cfg config.Config, binary, identifier string) error {
	it, err := item.Parse(identifier)
	if err != nil {
		return fmt.Errorf("parse identifier: %w", err)
	}
	plan, err := planner.New(planner.WithOdds(cfg.Fetch.WidenOdds)).Plan(it.Target)
	if err != nil {
		return fmt.Errorf("plan %s: %w", identifier, err)
	}

	ws, err := workspace.New(workspace.Config{
		DataDir:   cfg.Worker.DataDir,
		SharedDir: cfg.SharedDir(),
		Prefix:    cfg.Project.WarcPrefix,
	}, sha1.New(), system.New(), zap.NewNop())
	if err != nil {
		return fmt.Errorf("init workspace: %w", err)
	}
	it.WorkspaceDir = ws.Dir(identifier)
	it.ContainerBase = ws.ContainerBase(identifier, system.New().Now())
	it.URLs = plan.URLs
	it.Domains = plan.Domains

	inv, err := newInvoker(cfg, binary, zap.NewNop())
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "item:     %s (%s)\n", it.Identifier, it.Kind())
	fmt.Fprintf(&b, "domains:  %s\n", strings.Join(plan.Domains, ","))
	fmt.Fprintf(&b, "urls:     %d\n", len(plan.URLs))
	for _, u := range plan.URLs {
		fmt.Fprintf(&b, "  %s\n", u)
	}
	fmt.Fprintf(&b, "env:      %s\n", strings.Join(fetch.Env(it), " "))
	fmt.Fprintf(&b, "command:  %s %s\n", binary, strings.Join(inv.Args(it, plan), " "))
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
