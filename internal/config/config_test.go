package config

import "testing"

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Config{
		HTTP: HTTPConfig{Port: 0},
		Database: DatabaseConfig{
			Addrs: []string{"localhost:6379"},
		},
		Encoder: EncoderConfig{Model: "siglip-base", Dimensions: 768},
	}
	cfg.Retrieval.Strategy = "rrf"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingDatabaseAddrs(t *testing.T) {
	cfg := Config{
		HTTP:    HTTPConfig{Port: 8080},
		Encoder: EncoderConfig{Model: "siglip-base", Dimensions: 768},
	}
	cfg.Retrieval.Strategy = "rrf"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database addrs")
	}
}

func TestValidate_MissingEncoderDimensions(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Encoder:  EncoderConfig{Model: "siglip-base"},
	}
	cfg.Retrieval.Strategy = "rrf"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing encoder dimensions")
	}
}

func TestValidate_InvalidStrategy(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Encoder:  EncoderConfig{Model: "siglip-base", Dimensions: 768},
	}
	cfg.Retrieval.Strategy = "bogus"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid rerank strategy")
	}
}

func TestValidate_CrossEncoderRequiresBaseURL(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Encoder:  EncoderConfig{Model: "siglip-base", Dimensions: 768},
	}
	cfg.Retrieval.Strategy = "cross_encoder"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for cross_encoder without rerank.base_url")
	}

	cfg.Rerank.BaseURL = "http://localhost:9000"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ValidStrategies(t *testing.T) {
	for _, strategy := range []string{"linear", "rrf"} {
		t.Run("strategy="+strategy, func(t *testing.T) {
			cfg := Config{
				HTTP:     HTTPConfig{Port: 8080},
				Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
				Encoder:  EncoderConfig{Model: "siglip-base", Dimensions: 768},
			}
			cfg.Retrieval.Strategy = strategy

			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error for strategy %q: %v", strategy, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Storage.KeyPrefix != "visualmem:" {
		t.Errorf("expected KeyPrefix='visualmem:', got %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Storage.HNSWM != 16 {
		t.Errorf("expected HNSWM=16, got %d", cfg.Storage.HNSWM)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("expected TopK=10, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.CoarseMultiplier != 3 {
		t.Errorf("expected CoarseMultiplier=3, got %d", cfg.Retrieval.CoarseMultiplier)
	}
	if cfg.Retrieval.Strategy != "rrf" {
		t.Errorf("expected Strategy='rrf', got %q", cfg.Retrieval.Strategy)
	}
	if cfg.Retrieval.RRFConstant != 60 {
		t.Errorf("expected RRFConstant=60, got %d", cfg.Retrieval.RRFConstant)
	}
	if cfg.LLM.RewriteCount != 3 {
		t.Errorf("expected RewriteCount=3, got %d", cfg.LLM.RewriteCount)
	}
	if cfg.LLM.MaxEvidence != 5 {
		t.Errorf("expected MaxEvidence=5, got %d", cfg.LLM.MaxEvidence)
	}
	if cfg.Ingest.BatchSize != 10 {
		t.Errorf("expected BatchSize=10, got %d", cfg.Ingest.BatchSize)
	}
	if cfg.Ingest.FlushIntervalSec != 60 {
		t.Errorf("expected FlushIntervalSec=60, got %d", cfg.Ingest.FlushIntervalSec)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:    HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Storage: StorageConfig{KeyPrefix: "custom:", HNSWM: 32},
	}
	cfg.Retrieval.TopK = 25
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Storage.KeyPrefix != "custom:" {
		t.Errorf("expected KeyPrefix='custom:', got %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Storage.HNSWM != 32 {
		t.Errorf("expected HNSWM=32, got %d", cfg.Storage.HNSWM)
	}
	if cfg.Retrieval.TopK != 25 {
		t.Errorf("expected TopK=25, got %d", cfg.Retrieval.TopK)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VM_TEST_PORT", "9090")

	in := []byte("port: ${VM_TEST_PORT}\nkey: ${VM_TEST_MISSING:-fallback}\n")
	out := string(expandEnvVars(in))

	if out != "port: 9090\nkey: fallback\n" {
		t.Errorf("unexpected expansion: %q", out)
	}
}
