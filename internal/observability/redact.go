package observability

import (
    "encoding/json"
    "strings"
)

// sensitiveKeys covers the credential field names that actually appear in
// chatplane's own JSON shapes: config.S3Config/S3SSEConfig's access/secret
// keys, and the provider API keys under config.LLMConfig, plus the usual
// HTTP auth header forms.
var sensitiveKeys = []string{
    "api_key", "apikey", "apiKey", "x-api-key", "authorization", "auth", "token", "access_token", "refresh_token", "password", "secret", "bearer",
    "access_key", "secret_key", "kms_key_id",
}

// RedactJSON takes a JSON payload (an ingested document's extracted text,
// an LLM request/response body, a config dump in a startup log line) and
// redacts sensitive values based on common key names before it reaches a
// zerolog sink.
func RedactJSON(raw json.RawMessage) json.RawMessage {
    if len(raw) == 0 {
        return raw
    }
    var v any
    if err := json.Unmarshal(raw, &v); err != nil {
        return raw
    }
    redacted := redactValue(v)
    b, err := json.Marshal(redacted)
    if err != nil {
        return raw
    }
    return b
}

func redactValue(v any) any {
    switch val := v.(type) {
    case map[string]any:
        for k, vv := range val {
            if isSensitiveKey(k) {
                val[k] = "[REDACTED]"
            } else {
                val[k] = redactValue(vv)
            }
        }
        return val
    case []any:
        for i := range val {
            val[i] = redactValue(val[i])
        }
        return val
    default:
        return v
    }
}

func isSensitiveKey(k string) bool {
    low := strings.ToLower(k)
    for _, s := range sensitiveKeys {
        if low == s {
            return true
        }
        // contains common header forms
        if strings.Contains(low, s) {
            return true
        }
    }
    return false
}

