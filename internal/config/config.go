package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// Values come from env; VOICE_CONFIG_FILE may supply defaults for the voice
// and LLM sections (see file.go). Env always wins.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Carrier CarrierConfig
	Voice   VoiceConfig
	Speech  SpeechConfig
	LLM     LLMConfig
	MQTT    MQTTConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
	// PublicBaseURL is where carriers reach webhooks and the media socket.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional unless a tenant call limit is set.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type CarrierConfig struct {
	// Provider is telnyx or twilio.
	Provider string

	TelnyxAPIKey        string
	TelnyxConnectionID  string
	TelnyxWebhookSecret string

	TwilioAccountSID string
	TwilioAuthToken  string
}

type VoiceConfig struct {
	MaxConcurrentCalls int
	RecordingEnabled   bool
	Greeting           string
	DefaultTenantID    string
	// TenantCallLimit is the cluster-wide per-tenant cap. 0 disables it.
	TenantCallLimit  int
	BargeInThreshold float64
	TTSVoice         string
	Language         string
}

type SpeechConfig struct {
	CartesiaAPIKey string
}

type LLMConfig struct {
	GeminiAPIKey string
	Model        string
	SystemPrompt string
}

// MQTTConfig is optional; an empty Broker disables publishing.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	if path := strings.TrimSpace(os.Getenv("VOICE_CONFIG_FILE")); path != "" {
		if err := applyFile(&c, path); err != nil {
			return Config{}, err
		}
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Carrier.Provider = strings.ToLower(envOr("CARRIER_PROVIDER", "telnyx"))
	c.Carrier.TelnyxAPIKey = os.Getenv("TELNYX_API_KEY")
	c.Carrier.TelnyxConnectionID = strings.TrimSpace(os.Getenv("TELNYX_CONNECTION_ID"))
	c.Carrier.TelnyxWebhookSecret = os.Getenv("TELNYX_WEBHOOK_SECRET")
	c.Carrier.TwilioAccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Carrier.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")

	{
		n, err := optionalInt("VOICE_MAX_CONCURRENT_CALLS", orInt(c.Voice.MaxConcurrentCalls, 10))
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Voice.MaxConcurrentCalls = n
	}
	{
		b, err := optionalBool("VOICE_RECORDING_ENABLED", c.Voice.RecordingEnabled)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Voice.RecordingEnabled = b
	}
	c.Voice.Greeting = envOr("VOICE_GREETING", c.Voice.Greeting)
	c.Voice.DefaultTenantID = envOr("VOICE_DEFAULT_TENANT_ID", orString(c.Voice.DefaultTenantID, "default"))
	{
		n, err := optionalInt("VOICE_TENANT_CALL_LIMIT", c.Voice.TenantCallLimit)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Voice.TenantCallLimit = n
	}
	{
		f, err := optionalFloat("VOICE_BARGE_IN_THRESHOLD", c.Voice.BargeInThreshold)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Voice.BargeInThreshold = f
	}
	c.Voice.TTSVoice = envOr("VOICE_TTS_VOICE", c.Voice.TTSVoice)
	c.Voice.Language = envOr("VOICE_LANGUAGE", orString(c.Voice.Language, "en"))

	c.Speech.CartesiaAPIKey = os.Getenv("CARTESIA_API_KEY")

	c.LLM.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	c.LLM.Model = envOr("GEMINI_MODEL", orString(c.LLM.Model, "gemini-2.5-flash"))
	c.LLM.SystemPrompt = envOr("VOICE_SYSTEM_PROMPT", c.LLM.SystemPrompt)

	c.MQTT.Broker = envOr("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = envOr("MQTT_CLIENT_ID", orString(c.MQTT.ClientID, "voice-platform"))
	c.MQTT.Username = envOr("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = envOr("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = envOr("MQTT_TOPIC_PREFIX", orString(c.MQTT.TopicPrefix, "voice"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills env-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.LogLevel != "" && !isValidLogLevel(c.App.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}
	if c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	} else if u, err := url.Parse(c.App.PublicBaseURL); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.App.PublicBaseURL))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	switch c.Carrier.Provider {
	case "telnyx":
		if c.Carrier.TelnyxAPIKey == "" {
			errs = append(errs, errors.New("TELNYX_API_KEY is required for the telnyx carrier"))
		}
		if c.Carrier.TelnyxConnectionID == "" {
			errs = append(errs, errors.New("TELNYX_CONNECTION_ID is required for the telnyx carrier"))
		}
		if c.IsProduction() && c.Carrier.TelnyxWebhookSecret == "" {
			errs = append(errs, errors.New("TELNYX_WEBHOOK_SECRET is required in production"))
		}
	case "twilio":
		if c.Carrier.TwilioAccountSID == "" || c.Carrier.TwilioAuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required for the twilio carrier"))
		}
	default:
		errs = append(errs, fmt.Errorf("CARRIER_PROVIDER must be telnyx or twilio, got %q", c.Carrier.Provider))
	}

	if c.Voice.MaxConcurrentCalls <= 0 {
		errs = append(errs, fmt.Errorf("VOICE_MAX_CONCURRENT_CALLS must be positive, got %d", c.Voice.MaxConcurrentCalls))
	}
	if c.Voice.DefaultTenantID == "" {
		c.Voice.DefaultTenantID = "default"
	}
	if c.Voice.TenantCallLimit < 0 {
		errs = append(errs, fmt.Errorf("VOICE_TENANT_CALL_LIMIT must not be negative, got %d", c.Voice.TenantCallLimit))
	}
	if c.Voice.TenantCallLimit > 0 && c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required when VOICE_TENANT_CALL_LIMIT is set"))
	}
	if c.Voice.BargeInThreshold < 0 {
		errs = append(errs, errors.New("VOICE_BARGE_IN_THRESHOLD must not be negative"))
	}

	if c.Speech.CartesiaAPIKey == "" {
		errs = append(errs, errors.New("CARTESIA_API_KEY is required"))
	}
	if c.LLM.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// TwilioVoiceURL and TwilioStatusURL are the callbacks handed to Twilio for
// outbound calls.
func (c Config) TwilioVoiceURL() string  { return c.App.PublicBaseURL + "/webhooks/twilio/voice" }
func (c Config) TwilioStatusURL() string { return c.App.PublicBaseURL + "/webhooks/twilio/status" }

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func optionalFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
