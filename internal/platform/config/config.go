package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultInvoiceDelay        = 5 * time.Minute
	defaultWorkerConcurrency   = 5
	defaultInvoiceMaxAttempts  = 8
	defaultInvoicePollInterval = time.Second
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Invoicing InvoicingConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics used for domain event publication.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// InvoicingConfig tunes the deferred invoice issuance pipeline.
type InvoicingConfig struct {
	// Delay between an order entering the delivered state and the invoice
	// materialization job becoming due.
	Delay time.Duration
	// WorkerConcurrency bounds how many invoice jobs run at once.
	WorkerConcurrency int
	// MaxAttempts bounds retries for a single job before it is dropped as failed.
	MaxAttempts int
	// PollInterval is how often the worker checks the queue for due jobs.
	PollInterval time.Duration
}

// LoadOption customises configuration loading.
type LoadOption func(*loadOptions)

type loadOptions struct {
	envFile string
	lookup  func(string) (string, bool)
}

// WithEnvFile overrides the dotenv file consulted before the process environment.
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithLookup substitutes the environment lookup function, used by tests.
func WithLookup(lookup func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) {
		if lookup != nil {
			o.lookup = lookup
		}
	}
}

// Load assembles the configuration from the environment, applying defaults
// and validating required values.
func Load(opts ...LoadOption) (Config, error) {
	options := loadOptions{envFile: defaultEnvFile, lookup: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	fileValues, err := readEnvFile(options.envFile)
	if err != nil {
		return Config{}, err
	}

	get := func(key string) string {
		if value, ok := options.lookup(key); ok {
			return strings.TrimSpace(value)
		}
		return strings.TrimSpace(fileValues[key])
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringOr(get("PORT"), defaultPort),
			ReadTimeout:  durationOr(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationOr(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationOr(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    get("FIRESTORE_PROJECT_ID"),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		PubSub: PubSubConfig{
			ProjectID:        get("PUBSUB_PROJECT_ID"),
			OrderEventsTopic: get("PUBSUB_TOPIC_ORDER_EVENTS"),
		},
		Invoicing: InvoicingConfig{
			Delay:             millisOr(get("INVOICE_DELAY_MS"), defaultInvoiceDelay),
			WorkerConcurrency: intOr(get("INVOICE_WORKER_CONCURRENCY"), defaultWorkerConcurrency),
			MaxAttempts:       intOr(get("INVOICE_MAX_ATTEMPTS"), defaultInvoiceMaxAttempts),
			PollInterval:      millisOr(get("INVOICE_POLL_INTERVAL_MS"), defaultInvoicePollInterval),
		},
	}

	// The pub/sub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	var missing []string
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "FIRESTORE_PROJECT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required values: %s", strings.Join(missing, ", "))
	}

	if cfg.Invoicing.Delay <= 0 {
		return errors.New("config: INVOICE_DELAY_MS must be positive")
	}
	if cfg.Invoicing.WorkerConcurrency <= 0 {
		return errors.New("config: INVOICE_WORKER_CONCURRENCY must be positive")
	}
	if cfg.Invoicing.MaxAttempts <= 0 {
		return errors.New("config: INVOICE_MAX_ATTEMPTS must be positive")
	}
	if cfg.Invoicing.PollInterval <= 0 {
		return errors.New("config: INVOICE_POLL_INTERVAL_MS must be positive")
	}
	return nil
}

// readEnvFile parses KEY=VALUE lines, ignoring comments and blank lines.
// A missing file is not an error.
func readEnvFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if strings.TrimSpace(path) == "" {
		return values, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func intOr(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// millisOr interprets the value as a millisecond count, matching the
// *_MS environment variable convention.
func millisOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
