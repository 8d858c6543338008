package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/MomentPipe/internal/activity"
	"github.com/BTreeMap/MomentPipe/internal/api"
	"github.com/BTreeMap/MomentPipe/internal/capability"
	"github.com/BTreeMap/MomentPipe/internal/engine"
	"github.com/BTreeMap/MomentPipe/internal/genai"
	"github.com/BTreeMap/MomentPipe/internal/lockfile"
	"github.com/BTreeMap/MomentPipe/internal/notify"
	"github.com/BTreeMap/MomentPipe/internal/scheduler"
	"github.com/BTreeMap/MomentPipe/internal/store"
	"github.com/BTreeMap/MomentPipe/internal/util"
	"github.com/BTreeMap/MomentPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MomentPipe state data
	DefaultStateDir = "/var/lib/momentpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "momentpipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// One instance per state directory; engine state has no cross-process coordination
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	dispatcher, err := buildDispatcher(flags)
	if err != nil {
		slog.Error("Failed to initialize notification channel", "error", err)
		os.Exit(1)
	}

	engineOpts := buildEngineOptions(flags, st, dispatcher)

	slog.Info("Bootstrapping MomentPipe with configured modules")
	eng := engine.New(engineOpts...)
	sched := scheduler.NewScheduler()
	defer sched.Stop()

	server := api.NewServer(eng, capability.NewSnapshotCache(), st, sched, buildAPIOptions(flags)...)
	if err := server.Run(); err != nil {
		slog.Error("MomentPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MomentPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	WhatsAppDSN   string
	WhatsAppTo    string
	OpenAIKey     string
	APIAddr       string
	Channel       string
	CheckInterval string
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	channel          *string
	checkInterval    *string
	openaiKey        *string
	whatsappDSN      *string
	whatsappTo       *string
	qrOutput         *string
	numeric          *bool
	simulateActivity *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("MOMENTPIPE_STATE_DIR"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppTo:    os.Getenv("WHATSAPP_TO_NUMBER"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		Channel:       os.Getenv("NOTIFY_CHANNEL"),
		CheckInterval: os.Getenv("CHECK_INTERVAL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MOMENTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.Channel == "" {
		config.Channel = "log"
	}

	slog.Debug("environment variables loaded",
		"MOMENTPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"NOTIFY_CHANNEL", config.Channel,
		"CHECK_INTERVAL", config.CheckInterval)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for MomentPipe data (overrides $MOMENTPIPE_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "database DSN for the engine store (overrides $DATABASE_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channel:          flag.String("notify-channel", config.Channel, "notification channel: log, sms, or whatsapp (overrides $NOTIFY_CHANNEL)"),
		checkInterval:    flag.String("check-interval", config.CheckInterval, "periodic check interval, e.g. 5m (overrides $CHECK_INTERVAL)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for suggestion phrasing (overrides $OPENAI_API_KEY)"),
		whatsappDSN:      flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow database DSN (overrides $WHATSAPP_DB_DSN)"),
		whatsappTo:       flag.String("whatsapp-to", config.WhatsAppTo, "WhatsApp number that receives notifications (overrides $WHATSAPP_TO_NUMBER)"),
		qrOutput:         flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:          flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		simulateActivity: flag.Bool("simulate-activity", util.ParseBoolEnv("SIMULATE_ACTIVITY", false), "use simulated step data when no pedometer is available (overrides $SIMULATE_ACTIVITY)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"channel", *flags.channel,
		"checkInterval", *flags.checkInterval,
		"openaiKeySet", *flags.openaiKey != "",
		"simulateActivity", *flags.simulateActivity)

	return flags
}

// buildStore constructs the persistence backend from the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildDispatcher constructs the notification channel.
func buildDispatcher(flags Flags) (notify.Dispatcher, error) {
	switch *flags.channel {
	case "sms":
		return notify.NewTwilioDispatcher()
	case "whatsapp":
		waOpts := buildWhatsAppOptions(flags)
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return notify.NewWhatsAppDispatcher(client, *flags.whatsappTo)
	default:
		return notify.NewLogDispatcher(), nil
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// buildEngineOptions constructs engine configuration options
func buildEngineOptions(flags Flags, st store.Store, dispatcher notify.Dispatcher) []engine.Option {
	engineOpts := []engine.Option{
		engine.WithStore(st),
		engine.WithDispatcher(dispatcher),
	}

	if *flags.simulateActivity {
		provider := activity.NewSimulatedProvider(uint64(time.Now().UnixNano()))
		engineOpts = append(engineOpts, engine.WithTracker(activity.NewTracker(provider, time.Now())))
	}

	if *flags.openaiKey != "" {
		gaClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("GenAI phrasing unavailable, continuing with static suggestions", "error", err)
		} else {
			engineOpts = append(engineOpts, engine.WithPhraser(gaClient))
		}
	}

	return engineOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.checkInterval != "" {
		if d, err := time.ParseDuration(*flags.checkInterval); err == nil {
			apiOpts = append(apiOpts, api.WithCheckInterval(d))
		} else {
			slog.Warn("Invalid check interval, using default", "value", *flags.checkInterval, "error", err)
		}
	}
	return apiOpts
}
