package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/haven-labs/mindhaven/internal/app"
	"github.com/haven-labs/mindhaven/internal/flow"
	"github.com/haven-labs/mindhaven/internal/genai"
	"github.com/haven-labs/mindhaven/internal/outreach"
	"github.com/haven-labs/mindhaven/internal/store"
	"github.com/haven-labs/mindhaven/internal/util"
	"github.com/haven-labs/mindhaven/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MindHaven state data
	DefaultStateDir = "/var/lib/mindhaven"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "mindhaven.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow SQLite filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureStateDirExists(flags); err != nil {
		slog.Error("Failed to create state directory", "error", err)
		os.Exit(1)
	}

	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	appOpts := buildAppOptions(flags)

	slog.Info("Bootstrapping MindHaven with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "model", *flags.model)
	if err := app.Run(waOpts, storeOpts, genaiOpts, appOpts); err != nil {
		slog.Error("MindHaven failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MindHaven exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	WhatsAppDSN   string
	APIKey        string
	BaseURL       string
	Model         string
	TwilioEnabled bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput *string
	numeric  *bool
	stateDir *string
	dbDSN    *string
	waDSN    *string
	apiKey   *string
	baseURL  *string
	model    *string
	twilio   *bool
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
		StateDir:    os.Getenv("MINDHAVEN_STATE_DIR"),
		DatabaseURL: firstNonEmpty(os.Getenv("MINDHAVEN_DB_DSN"), os.Getenv("DATABASE_URL")),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		APIKey:      firstNonEmpty(os.Getenv("OPENROUTER_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		BaseURL:     os.Getenv("OPENROUTER_BASE_URL"),
		Model:       os.Getenv("AI_MODEL"),
	}
	config.TwilioEnabled = os.Getenv("TWILIO_ACCOUNT_SID") != "" &&
		os.Getenv("TWILIO_AUTH_TOKEN") != "" &&
		os.Getenv("TWILIO_FROM_NUMBER") != ""

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MINDHAVEN_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	slog.Debug("environment variables loaded",
		"MINDHAVEN_STATE_DIR", config.StateDir,
		"DB_DSN_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"API_KEY_SET", config.APIKey != "",
		"AI_MODEL", config.Model,
		"TWILIO_ENABLED", config.TwilioEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput: flag.String("qr-output", "", "path to write login QR code"),
		numeric:  flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir: flag.String("state-dir", config.StateDir, "state directory for MindHaven data (overrides $MINDHAVEN_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $MINDHAVEN_DB_DSN or $DATABASE_URL)"),
		waDSN:    flag.String("wa-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp device store (overrides $WHATSAPP_DB_DSN)"),
		apiKey:   flag.String("api-key", config.APIKey, "completion service API key (overrides $OPENROUTER_API_KEY)"),
		baseURL:  flag.String("base-url", config.BaseURL, "completion service base URL (overrides $OPENROUTER_BASE_URL)"),
		model:    flag.String("model", config.Model, "completion model identifier (overrides $AI_MODEL)"),
		twilio:   flag.Bool("twilio-outreach", config.TwilioEnabled, "send outreach messages through Twilio"),
	}

	flag.Parse()

	// Follow the state directory for the default SQLite files when it was
	// overridden on the command line.
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		if *flags.waDSN == filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) {
			*flags.waDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
		}
	}

	return flags
}

// ensureStateDirExists creates the state directory for file-based storage
func ensureStateDirExists(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	return os.MkdirAll(*flags.stateDir, 0755)
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	}
	return storeOpts
}

// buildGenAIOptions constructs completion client configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.apiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.apiKey))
	}
	if *flags.baseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.baseURL))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	if temp := util.ParseFloatEnv("AI_TEMPERATURE", 0); temp > 0 {
		genaiOpts = append(genaiOpts, genai.WithTemperature(temp))
	}
	return genaiOpts
}

// buildAppOptions constructs application configuration options
func buildAppOptions(flags Flags) []app.Option {
	flowCfg := flow.Config{
		DailyChatCap:       util.ParseIntEnv("DAILY_CHAT_CAP", flow.DefaultDailyChatCap),
		BanThresholdNormal: util.ParseIntEnv("BAN_THRESHOLD_NORMAL", flow.DefaultBanThresholdNormal),
		BanThresholdCrisis: util.ParseIntEnv("BAN_THRESHOLD_CRISIS", flow.DefaultBanThresholdCrisis),
		HistoryWindow:      util.ParseIntEnv("HISTORY_WINDOW", flow.DefaultHistoryWindow),
		CrisisMaxTokens:    int64(util.ParseIntEnv("CRISIS_MAX_TOKENS", flow.DefaultCrisisMaxTokens)),
		ReplyTimeout:       util.ParseDurationEnv("REPLY_TIMEOUT", flow.DefaultReplyTimeout),
		AssessTimeout:      util.ParseDurationEnv("ASSESS_TIMEOUT", flow.DefaultAssessTimeout),
	}
	outreachCfg := outreach.Config{
		IdleWindow:    util.ParseDurationEnv("IDLE_WINDOW", outreach.DefaultIdleWindow),
		FollowupAfter: util.ParseDurationEnv("FOLLOWUP_AFTER", outreach.DefaultFollowupAfter),
		WorstK:        util.ParseIntEnv("WORST_K", outreach.DefaultWorstK),
	}

	appOpts := []app.Option{
		app.WithStateDir(*flags.stateDir),
		app.WithFlowConfig(flowCfg),
		app.WithOutreachConfig(outreachCfg),
	}
	if *flags.twilio {
		appOpts = append(appOpts, app.WithTwilioOutreach())
	}
	return appOpts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
