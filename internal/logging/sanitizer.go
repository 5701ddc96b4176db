package logging

import "regexp"

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host
	userInfoPattern = regexp.MustCompile(`://([^:/@\s]+):[^@\s]+@`)

	jwtPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)
)

// SanitizeDSN removes passwords from a connection string. The user and host
// stay visible so operators can tell which database was meant.
func SanitizeDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(dsn, "${1}="+RedactedText)
	return userInfoPattern.ReplaceAllString(sanitized, "://${1}:"+RedactedText+"@")
}

// SanitizeError renders err with credentials and bearer tokens removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := SanitizeDSN(err.Error())
	return jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
}
