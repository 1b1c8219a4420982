package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/anvil-platform/strata/internal/catalog"
	"github.com/anvil-platform/strata/internal/module"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Args:  cobra.NoArgs,
	Short: "Resolve the module plan without starting anything",
	Long: `validate loads the configuration, selects one provider per module and
prints the order modules would start in. No provider phase runs.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	plan, _, err := module.NewManager(catalog.Default()).Plan(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range plan.Selections {
		fmt.Fprintf(out, "%s: %s\n", s.Module, s.Provider)
	}
	fmt.Fprintf(out, "start order: %s\n", strings.Join(plan.StartOrder, " -> "))
	return nil
}
