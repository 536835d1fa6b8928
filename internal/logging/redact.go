package logging

import (
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

var secretKeys = map[string]struct{}{
	"password":         {},
	"confirm_password": {},
	"confirmpassword":  {},
	"token":            {},
	"auth_token":       {},
	"access_token":     {},
	"refresh_token":    {},
	"id_token":         {},
	"code_verifier":    {},
	"client_secret":    {},
	"authorization":    {},
}

// IsSecretKey reports whether an attribute key names a credential.
func IsSecretKey(key string) bool {
	_, ok := secretKeys[strings.ToLower(key)]
	return ok
}

// Redact masks the value of secret attributes, descending into groups.
func Redact(a slog.Attr) slog.Attr {
	if IsSecretKey(a.Key) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := a.Value.Group()
		out := make([]slog.Attr, len(inner))
		for i, ga := range inner {
			out[i] = Redact(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}
