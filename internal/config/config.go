package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Identity of the single signed-in user driving the worker.
	UserID string

	// Database
	SQLiteDBPath string

	// Suggestions
	SuggestionsPath    string
	SuggestionLimit    int
	SuggestionDebounce time.Duration

	// Recurring processor
	RecurringInterval time.Duration

	// AMQP (optional: publishing is disabled when AMQPURL is empty)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Backend selection
	LedgerBackend string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		UserID:       getEnv("TALLY_USER_ID", ""),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/tally.db"),

		SuggestionsPath:    getEnv("SUGGESTIONS_PATH", "./data/suggestions.json"),
		SuggestionLimit:    getEnvInt("SUGGESTION_LIMIT", 8),
		SuggestionDebounce: getEnvDuration("SUGGESTION_DEBOUNCE", 150*time.Millisecond),

		RecurringInterval: getEnvDuration("RECURRING_PROCESSOR_INTERVAL", time.Hour),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "tally"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "transactions"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Transactions"),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),

		LedgerBackend: getEnv("LEDGER_BACKEND", "sqlite"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	validBackends := []string{"memory", "sheets", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.LedgerBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validBackends))
	}

	// Recurring records live in SQLite for both the sqlite and sheets backends.
	if c.LedgerBackend == "sqlite" || c.LedgerBackend == "sheets" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, fmt.Sprintf("SQLite database path cannot be empty when using %s backend", c.LedgerBackend))
		} else if msg := ensureDir(c.SQLiteDBPath, "SQLite database"); msg != "" {
			errors = append(errors, msg)
		}
	}

	if c.SuggestionsPath != "" {
		if msg := ensureDir(c.SuggestionsPath, "suggestions snapshot"); msg != "" {
			errors = append(errors, msg)
		}
	}

	if c.SuggestionLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid suggestion limit %d: must be at least 1", c.SuggestionLimit))
	} else if c.SuggestionLimit > 100 {
		errors = append(errors, fmt.Sprintf("invalid suggestion limit %d: must be at most 100", c.SuggestionLimit))
	}

	if c.SuggestionDebounce < 0 {
		errors = append(errors, fmt.Sprintf("invalid suggestion debounce %v: must not be negative", c.SuggestionDebounce))
	} else if c.SuggestionDebounce > 5*time.Second {
		errors = append(errors, fmt.Sprintf("invalid suggestion debounce %v: must be at most 5 seconds", c.SuggestionDebounce))
	}

	if c.RecurringInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid recurring interval %v: must be at least 1 second", c.RecurringInterval))
	} else if c.RecurringInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recurring interval %v: must be at most 24 hours", c.RecurringInterval))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.LedgerBackend == "sheets" {
		errors = append(errors, c.validateSheets()...)
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateSheets checks only the Google Sheets settings. The ledger worker
// writes to Sheets regardless of LedgerBackend.
func (c *Config) ValidateSheets() error {
	if errs := c.validateSheets(); len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func (c *Config) validateSheets() []string {
	var errors []string
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required when using sheets backend")
	}

	// GOOGLE_APPLICATION_CREDENTIALS is accepted as a fallback by the client.
	hasFile := c.GoogleServiceAccountFile != ""
	hasJSON := c.GoogleServiceAccountJSON != ""
	if !hasFile && !hasJSON && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for sheets backend")
	}
	if hasFile {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}
	return errors
}

// ensureDir creates the parent directory of path when missing. It returns a
// validation message on failure.
func ensureDir(path, what string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Sprintf("cannot create %s directory '%s': %v", what, dir, err)
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
