package config

import (
	"fmt"
	"os"
	"strings"
)

// SecretsDir - каталог, куда монтируются docker secrets.
var SecretsDir = "/run/secrets"

// ReadSecret читает файл docker secret.
func ReadSecret(secretName string) (string, error) {
	filePath := fmt.Sprintf("%s/%s", SecretsDir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// applySecrets заполняет пустые учётные данные из файлов секретов.
func applySecrets(cfg *Config) {
	fill := func(dst *string, name string) {
		if *dst != "" {
			return
		}
		if v, err := ReadSecret(name); err == nil {
			*dst = v
		}
	}
	fill(&cfg.Database.Password, "db_password")
	fill(&cfg.ImageGen.HuggingFaceToken, "hf_api_token")
	fill(&cfg.ImageGen.OpenAIKey, "openai_api_key")
	fill(&cfg.ImageGen.GeminiKey, "google_api_key")
	fill(&cfg.Redis.Password, "redis_password")
}
