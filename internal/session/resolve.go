package session

import "github.com/gmcamargo/koinonia/internal/config"

// DefaultSessionName is used when neither the flag nor the config names one.
const DefaultSessionName = "main"

// Resolve picks the active session name: the --session flag wins, then the
// config file's default_session, then DefaultSessionName. Config read
// failures fall through silently; a missing config is the common case on
// first run.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
