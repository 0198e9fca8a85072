package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 20 * time.Second
	defaultPersistenceDriver    = PersistenceMemory
	defaultFirestoreTxTimeout   = 5 * time.Second
	defaultLabelURLExpiry       = 7 * 24 * time.Hour
	defaultEventSink            = EventSinkNone
	defaultEventStreamBuffer    = 64
	defaultMailProvider         = MailProviderLog
	defaultMailFromName         = "Storefront"
	defaultCurrency             = "USD"
	defaultCurrencyExponent     = 2
	defaultShippingMethods      = "standard:Standard:500,express:Express:1500"
	defaultSequencePadLength    = 2
	defaultSequenceAttempts     = 3
	defaultSequenceTxAttempts   = 5
	defaultOrderPrefix          = "ORD-"
	defaultReturnPrefix         = "RET-"
	defaultOutboxPollInterval   = 2 * time.Second
	defaultOutboxBatchSize      = 25
	defaultOutboxMaxAttempts    = 6
	defaultOutboxInitialBackoff = time.Second
	defaultOutboxMaxBackoff     = 5 * time.Minute
	defaultReturnPickupDelay    = 48 * time.Hour
	defaultReturnBulkLimit      = 8
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Persistence drivers.
const (
	PersistenceMemory    = "memory"
	PersistenceFirestore = "firestore"
)

// Event sinks receiving domain events drained from the outbox.
const (
	EventSinkNone   = "none"
	EventSinkPubSub = "pubsub"
	EventSinkKafka  = "kafka"
)

// Mail providers.
const (
	MailProviderLog      = "log"
	MailProviderSendGrid = "sendgrid"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Persistence PersistenceConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Events      EventsConfig
	Mail        MailConfig
	Pricing     PricingConfig
	Sequence    SequenceConfig
	Outbox      OutboxConfig
	Returns     ReturnsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// PersistenceConfig selects the repository backend.
type PersistenceConfig struct {
	Driver string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	TxTimeout    time.Duration
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	LabelsBucket string
	// SignerKey is a service account JSON key used to sign label download URLs. Usually a secret reference.
	SignerKey      string
	LabelURLExpiry time.Duration
}

// EventsConfig controls the in-process event stream and the external sink.
type EventsConfig struct {
	Sink         string
	StreamBuffer int
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// MailConfig selects and configures the notification transport.
type MailConfig struct {
	Provider       string
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

// PricingConfig feeds the total calculator and notification money formatting.
type PricingConfig struct {
	Currency              string
	CurrencyExponent      int
	FreeShippingThreshold int64
	ShippingMethods       []ShippingMethodConfig
}

// ShippingMethodConfig is one selectable shipping option.
type ShippingMethodConfig struct {
	Code  string
	Label string
	Price int64
}

// SequenceConfig shapes human-facing identifiers.
type SequenceConfig struct {
	OrderPrefix  string
	ReturnPrefix string
	PadLength    int
	MaxAttempts  int
	// TxAttempts bounds Firestore contention retries inside one counter transaction.
	TxAttempts int
}

// OutboxConfig tunes the background outbox worker.
type OutboxConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ReturnsConfig tunes the return workflow.
type ReturnsConfig struct {
	PickupDelay     time.Duration
	BulkConcurrency int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed secret identifiers, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers use it to build the secret resolver
// before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader (e.g. "Mail.SendGridAPIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	var invalid []string
	shippingMethods, err := parseShippingMethods(stringWithDefault(lookup, "API_PRICING_SHIPPING_METHODS", defaultShippingMethods))
	if err != nil {
		invalid = append(invalid, "Pricing.ShippingMethods")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Persistence: PersistenceConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_PERSISTENCE_DRIVER", defaultPersistenceDriver)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			TxTimeout:    durationWithDefault(lookup, "API_FIRESTORE_TX_TIMEOUT", defaultFirestoreTxTimeout),
		},
		Storage: StorageConfig{
			LabelsBucket:   stringWithDefault(lookup, "API_STORAGE_LABELS_BUCKET", ""),
			SignerKey:      stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
			LabelURLExpiry: durationWithDefault(lookup, "API_STORAGE_LABEL_URL_EXPIRY", defaultLabelURLExpiry),
		},
		Events: EventsConfig{
			Sink:         strings.ToLower(stringWithDefault(lookup, "API_EVENTS_SINK", defaultEventSink)),
			StreamBuffer: intWithDefault(lookup, "API_EVENTS_STREAM_BUFFER", defaultEventStreamBuffer),
			PubSubTopic:  stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers: csvWithDefault(lookup, "API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:   stringWithDefault(lookup, "API_EVENTS_KAFKA_TOPIC", ""),
		},
		Mail: MailConfig{
			Provider:       strings.ToLower(stringWithDefault(lookup, "API_MAIL_PROVIDER", defaultMailProvider)),
			SendGridAPIKey: stringWithDefault(lookup, "API_MAIL_SENDGRID_API_KEY", ""),
			FromAddress:    stringWithDefault(lookup, "API_MAIL_FROM_ADDRESS", ""),
			FromName:       stringWithDefault(lookup, "API_MAIL_FROM_NAME", defaultMailFromName),
		},
		Pricing: PricingConfig{
			Currency:              strings.ToUpper(stringWithDefault(lookup, "API_PRICING_CURRENCY", defaultCurrency)),
			CurrencyExponent:      intWithDefault(lookup, "API_PRICING_CURRENCY_EXPONENT", defaultCurrencyExponent),
			FreeShippingThreshold: int64WithDefault(lookup, "API_PRICING_FREE_SHIPPING_THRESHOLD", 0),
			ShippingMethods:       shippingMethods,
		},
		Sequence: SequenceConfig{
			OrderPrefix:  stringWithDefault(lookup, "API_SEQUENCE_ORDER_PREFIX", defaultOrderPrefix),
			ReturnPrefix: stringWithDefault(lookup, "API_SEQUENCE_RETURN_PREFIX", defaultReturnPrefix),
			PadLength:    intWithDefault(lookup, "API_SEQUENCE_PAD_LENGTH", defaultSequencePadLength),
			MaxAttempts:  intWithDefault(lookup, "API_SEQUENCE_MAX_ATTEMPTS", defaultSequenceAttempts),
			TxAttempts:   intWithDefault(lookup, "API_SEQUENCE_TX_ATTEMPTS", defaultSequenceTxAttempts),
		},
		Outbox: OutboxConfig{
			PollInterval:   durationWithDefault(lookup, "API_OUTBOX_POLL_INTERVAL", defaultOutboxPollInterval),
			BatchSize:      intWithDefault(lookup, "API_OUTBOX_BATCH_SIZE", defaultOutboxBatchSize),
			MaxAttempts:    intWithDefault(lookup, "API_OUTBOX_MAX_ATTEMPTS", defaultOutboxMaxAttempts),
			InitialBackoff: durationWithDefault(lookup, "API_OUTBOX_INITIAL_BACKOFF", defaultOutboxInitialBackoff),
			MaxBackoff:     durationWithDefault(lookup, "API_OUTBOX_MAX_BACKOFF", defaultOutboxMaxBackoff),
		},
		Returns: ReturnsConfig{
			PickupDelay:     durationWithDefault(lookup, "API_RETURNS_PICKUP_DELAY", defaultReturnPickupDelay),
			BulkConcurrency: intWithDefault(lookup, "API_RETURNS_BULK_CONCURRENCY", defaultReturnBulkLimit),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Mail.SendGridAPIKey", &cfg.Mail.SendGridAPIKey},
		{"Storage.SignerKey", &cfg.Storage.SignerKey},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Persistence.Driver {
	case PersistenceMemory:
	case PersistenceFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
		if cfg.Firestore.TxTimeout <= 0 {
			missing = append(missing, "Firestore.TxTimeout")
		}
	default:
		missing = append(missing, "Persistence.Driver")
	}

	switch cfg.Events.Sink {
	case EventSinkNone:
	case EventSinkPubSub:
		if cfg.Events.PubSubTopic == "" {
			missing = append(missing, "Events.PubSubTopic")
		}
		if cfg.Firebase.ProjectID == "" {
			missing = append(missing, "Firebase.ProjectID")
		}
	case EventSinkKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			missing = append(missing, "Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			missing = append(missing, "Events.KafkaTopic")
		}
	default:
		missing = append(missing, "Events.Sink")
	}
	if cfg.Events.StreamBuffer <= 0 {
		missing = append(missing, "Events.StreamBuffer")
	}

	switch cfg.Mail.Provider {
	case MailProviderLog:
	case MailProviderSendGrid:
		if cfg.Mail.SendGridAPIKey == "" {
			missing = append(missing, "Mail.SendGridAPIKey")
		}
		if cfg.Mail.FromAddress == "" {
			missing = append(missing, "Mail.FromAddress")
		}
	default:
		missing = append(missing, "Mail.Provider")
	}

	if len(cfg.Pricing.Currency) != 3 {
		missing = append(missing, "Pricing.Currency")
	}
	if cfg.Pricing.CurrencyExponent < 0 || cfg.Pricing.CurrencyExponent > 4 {
		missing = append(missing, "Pricing.CurrencyExponent")
	}
	if cfg.Pricing.FreeShippingThreshold < 0 {
		missing = append(missing, "Pricing.FreeShippingThreshold")
	}

	if cfg.Sequence.OrderPrefix == "" || cfg.Sequence.OrderPrefix == cfg.Sequence.ReturnPrefix {
		missing = append(missing, "Sequence.OrderPrefix")
	}
	if cfg.Sequence.ReturnPrefix == "" {
		missing = append(missing, "Sequence.ReturnPrefix")
	}
	if cfg.Sequence.PadLength < 1 {
		missing = append(missing, "Sequence.PadLength")
	}
	if cfg.Sequence.MaxAttempts < 1 {
		missing = append(missing, "Sequence.MaxAttempts")
	}
	if cfg.Sequence.TxAttempts < 1 {
		missing = append(missing, "Sequence.TxAttempts")
	}

	if cfg.Outbox.PollInterval <= 0 {
		missing = append(missing, "Outbox.PollInterval")
	}
	if cfg.Outbox.BatchSize <= 0 {
		missing = append(missing, "Outbox.BatchSize")
	}
	if cfg.Outbox.MaxAttempts <= 0 {
		missing = append(missing, "Outbox.MaxAttempts")
	}
	if cfg.Outbox.InitialBackoff <= 0 || cfg.Outbox.MaxBackoff < cfg.Outbox.InitialBackoff {
		missing = append(missing, "Outbox.Backoff")
	}

	if cfg.Returns.PickupDelay <= 0 {
		missing = append(missing, "Returns.PickupDelay")
	}
	if cfg.Returns.BulkConcurrency <= 0 {
		missing = append(missing, "Returns.BulkConcurrency")
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// parseShippingMethods reads "code:label:price" entries separated by commas.
func parseShippingMethods(raw string) ([]ShippingMethodConfig, error) {
	entries := strings.Split(raw, ",")
	out := make([]ShippingMethodConfig, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("config: shipping method %q must be code:label:price", entry)
		}
		code := strings.TrimSpace(parts[0])
		label := strings.TrimSpace(parts[1])
		price, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil || code == "" || price < 0 {
			return nil, fmt.Errorf("config: invalid shipping method %q", entry)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("config: duplicate shipping method %q", code)
		}
		seen[code] = struct{}{}
		if label == "" {
			label = code
		}
		out = append(out, ShippingMethodConfig{Code: code, Label: label, Price: price})
	}
	if len(out) == 0 {
		return nil, errors.New("config: no shipping methods configured")
	}
	return out, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if strings.TrimSpace(resolved[trimmed]) != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
