package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Validate checks rules the struct tags cannot express. Load calls it.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}
	if err := validURL("settlement.base_url", c.Settlement.BaseURL); err != nil {
		return err
	}
	if err := validURL("directory.base_url", c.Directory.BaseURL); err != nil {
		return err
	}
	if c.Settlement.Timeout <= 0 {
		return fmt.Errorf("settlement.timeout must be > 0 (got %s)", c.Settlement.Timeout)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range (got %d)", c.Server.Port)
	}
	if c.Mail.Enabled && c.Mail.Host == "" {
		return fmt.Errorf("mail.host is required when mail is enabled")
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	if c.Monitor.Enabled && c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("monitor.check_interval must be > 0 when the monitor is enabled")
	}
	return nil
}

func validURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL (got %q)", field, raw)
	}
	return nil
}

// Origins splits the comma-separated CORS origins.
func (c CORSConfig) Origins() []string { return splitList(c.AllowedOrigins) }

func (c CORSConfig) Methods() []string { return splitList(c.AllowedMethods) }

func (c CORSConfig) Headers() []string { return splitList(c.AllowedHeaders) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
