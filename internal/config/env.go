package config

// Environment variables that override file values. Secrets are expected to
// arrive this way rather than in YAML.
const (
	EnvSuperOfficeEnv     = "SUPEROFFICE_ENV"
	EnvClientID           = "SUPEROFFICE_ID"
	EnvClientSecret       = "SUPEROFFICE_SECRET"
	EnvAccessTokenSecret  = "ACCESS_TOKEN_SECRET"
	EnvAccessTokenIV      = "ACCESS_TOKEN_IV"
	EnvRefreshTokenSecret = "REFRESH_TOKEN_SECRET"
	EnvRefreshTokenIV     = "REFRESH_TOKEN_IV"
	EnvRedisPassword      = "REDIS_PASSWORD"
)

// ApplyEnv overwrites fields for every variable lookup reports as set and
// non-empty.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	targets := map[string]*string{
		EnvSuperOfficeEnv:     &c.Auth.Environment,
		EnvClientID:           &c.Auth.ClientID,
		EnvClientSecret:       &c.Auth.ClientSecret,
		EnvAccessTokenSecret:  &c.Crypto.AccessToken.Secret,
		EnvAccessTokenIV:      &c.Crypto.AccessToken.IV,
		EnvRefreshTokenSecret: &c.Crypto.RefreshToken.Secret,
		EnvRefreshTokenIV:     &c.Crypto.RefreshToken.IV,
		EnvRedisPassword:      &c.Session.Redis.Password,
	}
	for name, dst := range targets {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
}
