package config

import (
	"testing"
	"time"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(
		WithEnvFile(""),
		WithLookup(lookupFrom(map[string]string{
			"FIRESTORE_PROJECT_ID": "demo-project",
		})),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Errorf("port = %q, want %q", cfg.Server.Port, defaultPort)
	}
	if cfg.Invoicing.Delay != 5*time.Minute {
		t.Errorf("invoice delay = %v, want 5m", cfg.Invoicing.Delay)
	}
	if cfg.Invoicing.WorkerConcurrency != 5 {
		t.Errorf("worker concurrency = %d, want 5", cfg.Invoicing.WorkerConcurrency)
	}
	if cfg.Invoicing.MaxAttempts != 8 {
		t.Errorf("max attempts = %d, want 8", cfg.Invoicing.MaxAttempts)
	}
	if cfg.PubSub.ProjectID != "demo-project" {
		t.Errorf("pubsub project = %q, want fallback to firestore project", cfg.PubSub.ProjectID)
	}
}

func TestLoadParsesMillisecondOverrides(t *testing.T) {
	cfg, err := Load(
		WithEnvFile(""),
		WithLookup(lookupFrom(map[string]string{
			"FIRESTORE_PROJECT_ID":       "demo-project",
			"INVOICE_DELAY_MS":           "120000",
			"INVOICE_POLL_INTERVAL_MS":   "250",
			"INVOICE_WORKER_CONCURRENCY": "2",
			"INVOICE_MAX_ATTEMPTS":       "3",
		})),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Invoicing.Delay != 2*time.Minute {
		t.Errorf("invoice delay = %v, want 2m", cfg.Invoicing.Delay)
	}
	if cfg.Invoicing.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v, want 250ms", cfg.Invoicing.PollInterval)
	}
	if cfg.Invoicing.WorkerConcurrency != 2 {
		t.Errorf("worker concurrency = %d, want 2", cfg.Invoicing.WorkerConcurrency)
	}
	if cfg.Invoicing.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Invoicing.MaxAttempts)
	}
}

func TestLoadRejectsMissingProject(t *testing.T) {
	_, err := Load(WithEnvFile(""), WithLookup(lookupFrom(nil)))
	if err == nil {
		t.Fatal("expected error for missing FIRESTORE_PROJECT_ID")
	}
}

func TestLoadRejectsNonPositiveInvoiceSettings(t *testing.T) {
	_, err := Load(
		WithEnvFile(""),
		WithLookup(lookupFrom(map[string]string{
			"FIRESTORE_PROJECT_ID": "demo-project",
			"INVOICE_DELAY_MS":     "0",
		})),
	)
	if err == nil {
		t.Fatal("expected error for zero invoice delay")
	}
}
