package server

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/grantauth/grantauth/instrumentation"
	"github.com/grantauth/grantauth/registrar"
	"github.com/grantauth/grantauth/security"
	"github.com/grantauth/grantauth/storage"
)

// Server is the authorization-server engine. It is request-scoped and
// stateless between requests; all shared state lives behind the injected
// stores, so a single Server may serve concurrent requests.
type Server struct {
	authorizer storage.Authorizer
	issuer     storage.Issuer
	clients    storage.ClientRepository
	registrar  *registrar.Registrar

	secretPolicy        security.SecretPolicy
	registrationLimiter *security.RegistrationLimiter

	// Config holds engine configuration with defaults applied
	Config *Config

	// Logger for structured logging
	Logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// New creates an engine over the given stores. All three stores are
// required; a single value implementing several interfaces (such as the
// memory store) may be passed for each.
func New(authorizer storage.Authorizer, issuer storage.Issuer, clients storage.ClientRepository, config *Config) (*Server, error) {
	if authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("client repository is required")
	}
	if config == nil {
		config = &Config{}
	}

	logger := slog.Default()
	config = applyDefaults(config)

	var registrarOpts []registrar.Option
	if config.LimitScopeToRegistered {
		registrarOpts = append(registrarOpts, registrar.WithScopeLimit())
	}
	registrarOpts = append(registrarOpts, registrar.WithLogger(logger))

	return &Server{
		authorizer:          authorizer,
		issuer:              issuer,
		clients:             clients,
		registrar:           registrar.New(clients, registrarOpts...),
		secretPolicy:        security.PlainPolicy{},
		registrationLimiter: security.NewRegistrationLimiter(config.RegistrationRatePerSecond, config.RegistrationBurst, logger),
		Config:              config,
		Logger:              logger,
	}, nil
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.Logger = logger
	}
}

// SetSecretPolicy sets how client secrets are stored and verified. The
// policy must match the form of the secrets in the client repository;
// changing it invalidates previously registered confidential clients.
func (s *Server) SetSecretPolicy(policy security.SecretPolicy) {
	if policy != nil {
		s.secretPolicy = policy
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the server
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// generateRandomToken returns a 32-byte random string in base64 URL encoding.
// Used for authorization codes, client ids, and client secrets.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
