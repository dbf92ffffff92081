package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/lexfrei/registry-credentials-controller/internal/config"
	"github.com/lexfrei/registry-credentials-controller/internal/controller"
)

const defaultNamespace = "registry-system"

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "registry-credentials-controller",
	Short: "Kubernetes controller propagating container registry credentials",
	Long: `A Kubernetes controller that turns ContainerRegistry resources into image
pull secrets attached to the default ServiceAccount of every target namespace,
and ContainerRegistryCleanupJob resources into CronJobs for matching registries.`,
	RunE:          runController,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	rootCmd.Flags().String("namespace", homeNamespace(), "Namespace of the controller and its resources (or POD_NAMESPACE)")
	rootCmd.Flags().Duration("resync-interval", controller.DefaultResyncInterval, "Period of the full resync sweep")
	rootCmd.Flags().Duration("secret-wait-interval", config.DefaultSecretWaitInterval, "Poll interval while waiting for a referenced credential Secret")
	rootCmd.Flags().Duration("secret-wait-timeout", config.DefaultSecretWaitTimeout, "Maximum wait for a referenced credential Secret")
	rootCmd.Flags().Int("max-concurrent-reconciles", 4, "Maximum parallel reconciles per resource kind")
	rootCmd.Flags().String("templates-dir", "", "Directory with configmap.yaml, secret.yaml and cronjob.yaml overriding the built-in templates")
	rootCmd.Flags().String("cleanup-image", "", "Container image of derived cleanup CronJobs (defaults to the template image)")
	rootCmd.Flags().String("metrics-addr", ":8080", "Address for metrics endpoint")
	rootCmd.Flags().String("health-addr", ":8081", "Address for health probe endpoint")

	// Leader election flags
	rootCmd.Flags().Bool("leader-elect", false, "Enable leader election for high availability")
	rootCmd.Flags().String("leader-election-namespace", "", "Namespace for leader election lease (defaults to controller namespace)")
	rootCmd.Flags().String("leader-election-name", "registry-credentials-controller-leader", "Name of the leader election lease")

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("RC")
	viper.AutomaticEnv()

	viper.SetDefault("namespace", homeNamespace())
	viper.SetDefault("resync-interval", controller.DefaultResyncInterval)
	viper.SetDefault("secret-wait-interval", config.DefaultSecretWaitInterval)
	viper.SetDefault("secret-wait-timeout", config.DefaultSecretWaitTimeout)
	viper.SetDefault("max-concurrent-reconciles", 4)
	viper.SetDefault("metrics-addr", ":8080")
	viper.SetDefault("health-addr", ":8081")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "json")
	viper.SetDefault("leader-elect", false)
	viper.SetDefault("leader-election-name", "registry-credentials-controller-leader")
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

// homeNamespace prefers the namespace injected through the downward API.
func homeNamespace() string {
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" {
		return ns
	}

	return defaultNamespace
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo

	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if viper.GetString("log-format") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

//nolint:noinlineerr // inline error handling is fine here
func runController(_ *cobra.Command, _ []string) error {
	logger := setupLogger()
	slog.SetDefault(logger)

	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	logger.Info("starting registry-credentials-controller",
		"version", version,
		"gitsha", gitsha,
	)

	namespace := viper.GetString("namespace")
	if namespace == "" {
		return errors.New("namespace is required (use --namespace, RC_NAMESPACE or POD_NAMESPACE)")
	}

	maxConcurrent := viper.GetInt("max-concurrent-reconciles")
	if maxConcurrent < 1 {
		return errors.Newf("max-concurrent-reconciles must be positive, got %d", maxConcurrent)
	}

	leaderElectNS := viper.GetString("leader-election-namespace")
	if leaderElectNS == "" {
		leaderElectNS = namespace
	}

	cfg := controller.Config{
		Namespace:               namespace,
		ResyncInterval:          viper.GetDuration("resync-interval"),
		SecretWaitInterval:      viper.GetDuration("secret-wait-interval"),
		SecretWaitTimeout:       viper.GetDuration("secret-wait-timeout"),
		MaxConcurrentReconciles: maxConcurrent,
		TemplatesDir:            viper.GetString("templates-dir"),
		CleanupImage:            viper.GetString("cleanup-image"),
		MetricsAddr:             viper.GetString("metrics-addr"),
		HealthAddr:              viper.GetString("health-addr"),

		LeaderElect:     viper.GetBool("leader-elect"),
		LeaderElectNS:   leaderElectNS,
		LeaderElectName: viper.GetString("leader-election-name"),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := controller.Run(ctx, &cfg); err != nil {
		return errors.Wrap(err, "failed to run controller")
	}

	return nil
}
