package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/amocrm"
	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/logger"
	"github.com/spigell/hh-screener/internal/metrics"
	"github.com/spigell/hh-screener/internal/model"
	"github.com/spigell/hh-screener/internal/report"
	"github.com/spigell/hh-screener/internal/rules"
	"github.com/spigell/hh-screener/internal/store"
)

const (
	app       = "hh-screener"
	envPrefix = "HH_SCREENER"

	defaultStore = app + ".db"
)

type Config struct {
	// ArtifactsDir holds the default artifact file names; Artifacts overrides single files.
	ArtifactsDir string                `mapstructure:"artifacts-dir"`
	Artifacts    model.Paths           `mapstructure:"artifacts"`
	Rules        string                `mapstructure:"rules"`
	Thresholds   categorize.Thresholds `mapstructure:"thresholds"`
	Store        string                `mapstructure:"store"`
	Report       report.Paths          `mapstructure:"report"`
	Sync         *SyncConfig           `mapstructure:"sync"`
	AmoCRM       *AmoCRMConfig         `mapstructure:"amocrm"`
	AI           *AIConfig             `mapstructure:"ai"`
}

type SyncConfig struct {
	// Categories sent to the CRM; green and yellow when empty.
	Categories   []string `mapstructure:"categories"`
	SkipRedFlags bool     `mapstructure:"skip-red-flags"`
}

type AmoCRMConfig struct {
	amocrm.Config `mapstructure:",squash"`

	AccessTokenFile  string `mapstructure:"access-token-file"`
	ClientSecretFile string `mapstructure:"client-secret-file"`
}

type AIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"`
	MinimumFitScore float64       `mapstructure:"minimum-fit-score"`
	Vacancy         string        `mapstructure:"vacancy"`
	Gemini          *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "hh-screener scores exported hh.ru resumes and pushes suitable candidates to amoCRM",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hh-screener.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve prometheus metrics on this address while the command runs, e.g. :9090")
	rootCmd.PersistentFlags().String("store", "", "sqlite database with screening sessions (default is hh-screener.db)")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("metrics-addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))
}

func initConfig() {
	// A missing .env is fine; credentials may come from the config or the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// The config file is optional, but a broken one is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}

	if config.Thresholds == (categorize.Thresholds{}) {
		config.Thresholds = categorize.DefaultThresholds()
	}
	if config.Store == "" {
		config.Store = defaultStore
	}
	if config.Report.XLSX == "" {
		config.Report.XLSX = report.DefaultXLSX
	}

	return config, nil
}

// env is what every command needs before doing its own work.
type env struct {
	ctx     context.Context
	stop    context.CancelFunc
	logger  *zap.Logger
	config  *Config
	metrics *metrics.Metrics
}

// prepare builds the logger and the config and starts the metrics endpoint
// when requested. SIGINT and SIGTERM cancel env.ctx.
func prepare(command string) *env {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	logger, err := logger.New(logger.Options{JSON: viper.GetBool("json"), Debug: viper.GetBool("debug")})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the hh-screener", zap.String("command", command), zap.String("version", version))

	m := metrics.New()
	if addr := viper.GetString("metrics-addr"); addr != "" {
		go func() {
			if err := m.Serve(ctx, addr, logger); err != nil {
				logger.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	return &env{ctx: ctx, stop: stop, logger: logger, config: config, metrics: m}
}

func (e *env) close() {
	e.stop()
	_ = e.logger.Sync()
}

func (e *env) openStore() *store.Store {
	s, err := store.Open(e.ctx, e.config.Store)
	if err != nil {
		e.logger.Fatal("opening the store", zap.String("path", e.config.Store), zap.Error(err))
	}
	return s
}

func (e *env) loadRules() *rules.Set {
	var (
		set *rules.Set
		err error
	)

	if e.config.Rules == "" {
		set, err = rules.Default()
	} else {
		set, err = rules.Load(e.config.Rules)
	}
	if err != nil {
		e.logger.Fatal("loading rules", zap.String("path", e.config.Rules), zap.Error(err))
	}

	return set
}

// artifactPaths starts from the default names in ArtifactsDir and applies
// the explicitly configured files on top.
func artifactPaths(config *Config) model.Paths {
	dir := config.ArtifactsDir
	if dir == "" {
		dir = "."
	}

	paths := model.PathsIn(dir)
	if config.Artifacts.Model != "" {
		paths.Model = config.Artifacts.Model
	}
	if config.Artifacts.Scaler != "" {
		paths.Scaler = config.Artifacts.Scaler
	}
	if config.Artifacts.Vectorizer != "" {
		paths.Vectorizer = config.Artifacts.Vectorizer
	}
	paths.Lemmas = config.Artifacts.Lemmas

	return paths
}

func printCounts(out io.Writer, title string, counts map[categorize.Category]int, failed int) {
	fmt.Fprintln(out, title)
	for _, c := range []categorize.Category{categorize.Green, categorize.Yellow, categorize.Red} {
		fmt.Fprintf(out, "  %-18s %d\n", c.Label(), counts[c])
	}
	if failed > 0 {
		fmt.Fprintf(out, "  %-18s %d\n", "Ошибки обработки", failed)
	}
}
