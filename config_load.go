package sessionkit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SESSIONKIT_API_BASE_URL.
const EnvPrefix = "SESSIONKIT"

// LoadConfig builds a Config from the defaults, an optional config file at path (any
// format viper reads, chosen by extension) and SESSIONKIT_* environment variables, in
// increasing precedence. A missing file is an error only when path is non-empty.
// The result is validated.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, defaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Join(errors.New("config: invalid"), err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.user_agent", d.API.UserAgent)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.redis_addr", d.Storage.RedisAddr)
	v.SetDefault("storage.redis_prefix", d.Storage.RedisPrefix)
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("storage.namespace", d.Storage.Namespace)

	v.SetDefault("session.clear_attempts", d.Session.ClearAttempts)
	v.SetDefault("session.write_legacy_flag", d.Session.WriteLegacyFlag)
	v.SetDefault("session.reject_expired_tokens", d.Session.RejectExpiredTokens)
	v.SetDefault("session.expiry_leeway", d.Session.ExpiryLeeway)

	v.SetDefault("inactivity.enabled", d.Inactivity.Enabled)
	v.SetDefault("inactivity.idle_timeout", d.Inactivity.IdleTimeout)
	v.SetDefault("inactivity.poll_interval", d.Inactivity.PollInterval)
	v.SetDefault("inactivity.activity_key", d.Inactivity.ActivityKey)
	v.SetDefault("inactivity.throttle_window", d.Inactivity.ThrottleWindow)
	v.SetDefault("inactivity.warn_before", d.Inactivity.WarnBefore)

	v.SetDefault("routes.sign_in", d.Routes.SignIn)
	v.SetDefault("routes.change_password", d.Routes.ChangePassword)
	v.SetDefault("routes.admin_home", d.Routes.AdminHome)
	v.SetDefault("routes.provider_home", d.Routes.ProviderHome)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)
}
