package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// dsnSummary is the password-free description of a database DSN.
type dsnSummary struct {
	DatabaseType    string `json:"database_type"`
	DatabaseHost    string `json:"database_host,omitempty"`
	DatabasePort    int    `json:"database_port,omitempty"`
	DatabaseUser    string `json:"database_user,omitempty"`
	DatabaseName    string `json:"database_name,omitempty"`
	DatabaseSSLMode string `json:"database_ssl_mode,omitempty"`
	DatabasePath    string `json:"database_path,omitempty"`
	PasswordSet     bool   `json:"database_password_set"`
}

// String renders the summary for logs.
func (s dsnSummary) String() string {
	if s.DatabaseType == "sqlite" {
		return fmt.Sprintf("sqlite path=%s", s.DatabasePath)
	}
	return fmt.Sprintf("postgres host=%s port=%d db=%s user=%s sslmode=%s password_set=%t",
		s.DatabaseHost, s.DatabasePort, s.DatabaseName, s.DatabaseUser, s.DatabaseSSLMode, s.PasswordSet)
}

// summarizeDSN parses a sqlite file DSN or a postgres URL without exposing
// the password.
func summarizeDSN(dsn string) (dsnSummary, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return dsnSummary{}, fmt.Errorf("empty dsn")
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "file:") || strings.HasSuffix(lowered, ".db") || lowered == ":memory:" {
		pathPart := trimmed
		if strings.HasPrefix(lowered, "file:") {
			pathPart = trimmed[len("file:"):]
		}
		pathPart, _, _ = strings.Cut(pathPart, "?")
		return dsnSummary{
			DatabaseType: "sqlite",
			DatabasePath: strings.TrimSpace(pathPart),
		}, nil
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return dsnSummary{}, fmt.Errorf("parse dsn: %w", errParse)
	}

	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		port := 5432
		if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
			parsedPort, errPort := strconv.Atoi(rawPort)
			if errPort != nil {
				return dsnSummary{}, fmt.Errorf("parse port: %w", errPort)
			}
			port = parsedPort
		}

		username := ""
		passwordSet := false
		if u.User != nil {
			username = strings.TrimSpace(u.User.Username())
			_, passwordSet = u.User.Password()
		}

		sslMode := strings.TrimSpace(u.Query().Get("sslmode"))
		if sslMode == "" {
			sslMode = "disable"
		}

		return dsnSummary{
			DatabaseType:    "postgres",
			DatabaseHost:    strings.TrimSpace(u.Hostname()),
			DatabasePort:    port,
			DatabaseUser:    username,
			DatabaseName:    strings.TrimSpace(strings.TrimPrefix(u.Path, "/")),
			DatabaseSSLMode: sslMode,
			PasswordSet:     passwordSet,
		}, nil
	default:
		return dsnSummary{}, fmt.Errorf("unsupported dsn scheme")
	}
}
