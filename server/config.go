package server

// Config holds engine configuration. Zero values select the defaults.
type Config struct {
	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// EnableClientCredentials enables the client_credentials grant for
	// confidential clients. Disabled by default; requests for the grant
	// fail with unsupported_grant_type.
	EnableClientCredentials bool

	// LimitScopeToRegistered restricts granted scopes to the client's
	// registered default scope. Without it a requested scope is granted
	// verbatim and the registered scope only fills in omitted requests.
	LimitScopeToRegistered bool

	// RegistrationRatePerSecond is the sustained rate of administrative
	// client registrations allowed per registrant identifier
	RegistrationRatePerSecond float64 // default: 1

	// RegistrationBurst is the registration burst allowed per identifier
	RegistrationBurst int // default: 5
}

// applyDefaults fills in default values for unset configuration fields.
func applyDefaults(config *Config) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RegistrationRatePerSecond == 0 {
		config.RegistrationRatePerSecond = 1
	}
	if config.RegistrationBurst == 0 {
		config.RegistrationBurst = 5
	}
	return config
}
