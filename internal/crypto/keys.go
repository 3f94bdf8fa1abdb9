package crypto

import (
	"fmt"
	"os"
	"strings"
)

// KeyConfig carries the information LoadKeys needs to resolve the API key
// pair. Populate the fields from environment variables or a config file.
type KeyConfig struct {
	// AccessKey / SecretKey are used directly when both are non-empty.
	AccessKey string
	SecretKey string

	// KeyFilePath points at a two-line key file of the form:
	//
	//	access_key: <key>
	//	secret_key: <key>
	KeyFilePath string
}

// LoadKeys resolves the access/secret key pair. Inline keys win over the key
// file so operators can override a deployed file via environment variables.
func LoadKeys(cfg KeyConfig) (accessKey, secretKey string, err error) {
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		return cfg.AccessKey, cfg.SecretKey, nil
	}
	if cfg.KeyFilePath == "" {
		return "", "", fmt.Errorf("crypto: no API keys configured (set keys inline or key_file_path)")
	}
	return readKeyFile(cfg.KeyFilePath)
}

// readKeyFile parses the key file format used by the trading account setup:
// one "access_key:" line and one "secret_key:" line, order-independent.
func readKeyFile(path string) (accessKey, secretKey string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("crypto: reading key file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "access_key":
			accessKey = strings.TrimSpace(value)
		case "secret_key":
			secretKey = strings.TrimSpace(value)
		}
	}

	if accessKey == "" || secretKey == "" {
		return "", "", fmt.Errorf("crypto: key file %s is missing access_key or secret_key", path)
	}
	return accessKey, secretKey, nil
}
