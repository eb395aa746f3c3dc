// Package config loads service configuration from environment
// variables.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// Config holds the provenance service configuration.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string
	RedisAddr   string

	SolanaRPCURL         string
	ReportProgramID      solana.PublicKey
	TokenMetadataProgram solana.PublicKey
	CoreProgram          solana.PublicKey
	ServiceWallet        solana.PrivateKey

	EncryptionKey []byte

	PinataJWT     string
	PinataBaseURL string
	ReportImage   string

	BrokerURL string

	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads configuration from the environment. Optional settings fall
// back to development defaults; ledger identities and the encryption key
// are required.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          envOr("PORT", "8080"),
		LogLevel:      envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:   envOr("DATABASE_URL", "postgres://provenance@localhost:5432/provenance?sslmode=disable"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		SolanaRPCURL:  envOr("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
		PinataJWT:     os.Getenv("PINATA_JWT"),
		PinataBaseURL: envOr("PINATA_BASE_URL", "https://api.pinata.cloud"),
		ReportImage:   os.Getenv("REPORT_IMAGE_URL"),
		BrokerURL:     os.Getenv("ORION_URL"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:  os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	}

	var err error
	if cfg.ReportProgramID, err = requirePubkey("PROGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.TokenMetadataProgram, err = requirePubkey("MPL_TOKEN_METADATA_PROGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.CoreProgram, err = requirePubkey("MPL_CORE_PROGRAM_ID"); err != nil {
		return nil, err
	}

	if cfg.ServiceWallet, err = loadWallet("SERVICE_WALLET_SECRET_KEY"); err != nil {
		return nil, err
	}
	if cfg.EncryptionKey, err = loadEncryptionKey("ENCRYPTION_KEY"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func requirePubkey(name string) (solana.PublicKey, error) {
	v := os.Getenv(name)
	if v == "" {
		return solana.PublicKey{}, fmt.Errorf("config: %s is required", name)
	}
	pk, err := solana.PublicKeyFromBase58(v)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("config: parse %s: %w", name, err)
	}
	return pk, nil
}

// loadWallet parses a keypair exported as a JSON byte array, the format
// solana-keygen writes.
func loadWallet(name string) (solana.PrivateKey, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, fmt.Errorf("config: %s is required", name)
	}
	var raw []byte
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s as JSON byte array: %w", name, err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("config: %s holds %d bytes, want 64", name, len(raw))
	}
	return solana.PrivateKey(raw), nil
}

func loadEncryptionKey(name string) ([]byte, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, fmt.Errorf("config: %s is required", name)
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: %s holds %d bytes, want 32", name, len(key))
	}
	return key, nil
}
