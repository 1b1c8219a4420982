package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/anvil-platform/strata/internal/catalog"
	"github.com/anvil-platform/strata/internal/config"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/telemetry"
)

var (
	cfgFile   string
	overrides []string
	initOnly  bool
	zapOpts   = zap.Options{Development: true}
	version   = "dev"

	setupLog = ctrl.Log.WithName("setup")
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Run a strata node",
	Long: `strata loads the module configuration, bootstraps every selected module
in dependency order and serves until it receives SIGINT or SIGTERM.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runNode,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/strata.yaml", "path to the module configuration document")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "override a setting (e.g. --set core.default.gRPCPort=11801)")
	rootCmd.Flags().BoolVar(&initOnly, "init", false, "bootstrap every module, then exit")

	goFlags := flag.NewFlagSet("zap", flag.ExitOnError)
	zapOpts.BindFlags(goFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)

	rootCmd.AddCommand(validateCmd)
}

func loadConfig(ctx context.Context) (*module.ApplicationConfiguration, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyOverrides(ctx, cfg, overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	ctx := ctrl.SetupSignalHandler()
	started := time.Now()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	mgr := module.NewManager(catalog.Default())
	if err := mgr.Init(ctx, cfg); err != nil {
		setupLog.Error(err, "bootstrap failed")
		shutdown(mgr)
		return err
	}

	if initOnly {
		setupLog.Info("init mode, exiting after bootstrap")
		shutdown(mgr)
		return nil
	}

	creator, err := module.Lookup[telemetry.MetricsCreator](mgr, telemetry.ModuleName)
	if err != nil {
		shutdown(mgr)
		return err
	}
	creator.CreateGauge("uptime", "Start time of this node in unix seconds", nil).Set(float64(started.Unix()))
	setupLog.Info("node started", "version", version, "bootstrap", time.Since(started).String())

	<-ctx.Done()
	setupLog.Info("shutting down")
	shutdown(mgr)
	return nil
}

func shutdown(mgr *module.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil && !errors.Is(err, module.ErrNotInitialized) {
		setupLog.Error(err, "shutdown failed")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		setupLog.Error(err, "strata exited")
		os.Exit(1)
	}
}
