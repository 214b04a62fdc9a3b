package security

import (
	"os"
	"strings"
)

// sensitiveEnvPrefixes are stripped from subprocess environments.
var sensitiveEnvPrefixes = []string{
	"RELAYBOT_",
	"TELEGRAM_",
	"OPENAI_",
	"DEEPAI_",
	"HUGGINGFACE_",
	"HF_",
	"OTEL_EXPORTER_OTLP_HEADERS",
}

var sensitiveEnvExact = map[string]struct{}{
	"BOT_TOKEN": {},
	"API_TOKEN": {},
}

// SanitizedEnv returns os.Environ without bot and back-end secrets. Any value
// registered in store that still appears in a surviving variable is redacted.
func SanitizedEnv(store *CredentialStore) []string {
	return sanitizeEnv(os.Environ(), store)
}

func sanitizeEnv(env []string, store *CredentialStore) []string {
	var secrets []string
	if store != nil {
		secrets = store.Values()
	}

	out := make([]string, 0, len(env))
	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok || isSensitiveEnvVar(key) {
			continue
		}
		for _, secret := range secrets {
			if len(secret) >= minLiteralLen && strings.Contains(entry, secret) {
				entry = strings.ReplaceAll(entry, secret, RedactPlaceholder)
			}
		}
		out = append(out, entry)
	}
	return out
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := sensitiveEnvExact[upper]; ok {
		return true
	}
	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}
