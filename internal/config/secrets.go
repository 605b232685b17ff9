package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Placeholder values that must never be accepted as real secrets
var commonPlaceholders = []string{
	"changeme",
	"changeme_in_production",
	"your_api_key",
	"your_secret",
	"test",
	"password",
	"secret",
	"example",
	"sample",
	"demo",
	"default",
}

// SecretSource resolves named secrets. The default implementation reads
// from Vault when configured, falling back to environment variables.
type SecretSource interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// EnvSecretSource resolves secrets from environment variables
type EnvSecretSource struct{}

// Resolve reads the named environment variable and rejects placeholders
func (EnvSecretSource) Resolve(_ context.Context, name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("secret %s not set", name)
	}
	if isPlaceholder(value) {
		return "", fmt.Errorf("secret %s appears to be a placeholder value", name)
	}
	return value, nil
}

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
}

// VaultSecretSource resolves secrets from HashiCorp Vault with
// environment-variable fallback.
type VaultSecretSource struct {
	client *vault.Client
	config VaultConfig
	env    EnvSecretSource
}

// NewVaultSecretSource creates a Vault-backed secret source
func NewVaultSecretSource(cfg VaultConfig) (*VaultSecretSource, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("VAULT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
	}
	client.SetToken(cfg.Token)

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultSecretSource{client: client, config: cfg}, nil
}

// Resolve reads a secret from Vault, falling back to the environment
// when the path is missing.
func (v *VaultSecretSource) Resolve(ctx context.Context, name string) (string, error) {
	fullPath := fmt.Sprintf("%s/data/%s", v.config.MountPath, v.config.SecretPath)

	secret, err := v.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil || secret == nil {
		log.Debug().Str("secret", name).Msg("Vault lookup failed, falling back to environment")
		return v.env.Resolve(ctx, name)
	}

	data := secret.Data
	// KV v2 nests values under "data"
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	key := strings.ToLower(name)
	value, ok := data[key].(string)
	if !ok || value == "" {
		return v.env.Resolve(ctx, name)
	}
	if isPlaceholder(value) {
		return "", fmt.Errorf("secret %s appears to be a placeholder value", name)
	}
	return value, nil
}

// ResolveSecret resolves a secret from Vault when VAULT_ENABLED=true,
// otherwise from the environment.
func ResolveSecret(ctx context.Context, name string) (string, error) {
	vaultCfg := GetVaultConfigFromEnv()
	if vaultCfg.Enabled {
		src, err := NewVaultSecretSource(vaultCfg)
		if err != nil {
			log.Warn().Err(err).Msg("Vault unavailable, using environment variables for secrets")
			return EnvSecretSource{}.Resolve(ctx, name)
		}
		return src.Resolve(ctx, name)
	}
	return EnvSecretSource{}.Resolve(ctx, name)
}

// ExchangeCredentials holds exchange API credentials
type ExchangeCredentials struct {
	APIKey    string
	SecretKey string
}

// ResolveExchangeCredentials loads exchange API keys. Live mode requires
// both keys; paper mode tolerates their absence.
func ResolveExchangeCredentials(ctx context.Context, mode string) (ExchangeCredentials, error) {
	var creds ExchangeCredentials

	apiKey, errKey := ResolveSecret(ctx, "TRADEWIND_EXCHANGE_API_KEY")
	secretKey, errSecret := ResolveSecret(ctx, "TRADEWIND_EXCHANGE_SECRET_KEY")

	if mode == "live" {
		if errKey != nil {
			return creds, fmt.Errorf("live mode requires exchange API key: %w", errKey)
		}
		if errSecret != nil {
			return creds, fmt.Errorf("live mode requires exchange secret key: %w", errSecret)
		}
	}

	creds.APIKey = apiKey
	creds.SecretKey = secretKey
	return creds, nil
}

// GetVaultConfigFromEnv creates VaultConfig from environment variables
func GetVaultConfigFromEnv() VaultConfig {
	enabled := os.Getenv("VAULT_ENABLED") == "true"
	if !enabled {
		return VaultConfig{Enabled: false}
	}

	return VaultConfig{
		Enabled:    true,
		Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
		Token:      os.Getenv("VAULT_TOKEN"),
		MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
		SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "tradewind/production"),
	}
}

func isPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, placeholder := range commonPlaceholders {
		if lower == placeholder {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
