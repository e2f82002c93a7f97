package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	Audio        AudioConfig        `json:"audio"`
	Processing   ProcessingConfig   `json:"processing"`
	STT          STTConfig          `json:"stt"`
	Connectivity ConnectivityConfig `json:"connectivity"`
	API          APIConfig          `json:"api"`
	Aggregator   AggregatorConfig   `json:"aggregator"`
	Realtime     RealtimeConfig     `json:"realtime"`
	AMQP         AMQPConfig         `json:"amqp"`
	HTTP         HTTPConfig         `json:"http"`
	Logging      LoggingConfig      `json:"logging"`
}

// AudioConfig holds microphone capture settings
type AudioConfig struct {
	// Device is "auto", a numeric device index, or a (partial) device name
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate" validate:"gt=0"`
	Channels   int    `json:"channels" validate:"gte=1,lte=2"`
	BitDepth   int    `json:"bit_depth" validate:"eq=16"`

	// QueueCapacity bounds the capture queue; oldest frames are dropped
	// when a stalled consumer lets it fill up
	QueueCapacity int `json:"queue_capacity" validate:"gt=0"`
}

// ProcessingConfig holds voice activity detection settings
type ProcessingConfig struct {
	// SilenceThreshold is the mean absolute PCM16 amplitude below which a
	// frame counts as silence
	SilenceThreshold float64       `json:"silence_threshold" validate:"gte=0"`
	SilenceDuration  time.Duration `json:"silence_duration" validate:"gt=0"`
	ChunkDuration    time.Duration `json:"chunk_duration" validate:"gt=0"`
	BufferSize       int           `json:"buffer_size" validate:"gt=0"` // bytes per frame
}

// STTConfig holds the engine set and fallback policy
type STTConfig struct {
	// PrimaryEngine is the configured engine name (google, amazon, openai, whispercpp, mock)
	PrimaryEngine string `json:"primary_engine" validate:"required"`
	// FallbackEngine must be an offline-capable engine
	FallbackEngine string `json:"fallback_engine"`
	EnableFallback bool   `json:"enable_fallback"`

	Google     GoogleSTTConfig     `json:"google"`
	Amazon     AmazonSTTConfig     `json:"amazon"`
	OpenAI     OpenAISTTConfig     `json:"openai"`
	WhisperCPP WhisperCPPSTTConfig `json:"whispercpp"`
}

// GoogleSTTConfig holds Google Cloud Speech-to-Text settings
type GoogleSTTConfig struct {
	Enabled         bool   `json:"enabled"`
	APIKey          string `json:"api_key"`
	CredentialsFile string `json:"credentials_file"`
	Language        string `json:"language"`
	Model           string `json:"model"`
}

// AmazonSTTConfig holds Amazon Transcribe streaming settings
type AmazonSTTConfig struct {
	Enabled         bool   `json:"enabled"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Language        string `json:"language"`
}

// OpenAISTTConfig holds OpenAI Whisper API settings
type OpenAISTTConfig struct {
	Enabled bool          `json:"enabled"`
	APIKey  string        `json:"api_key"`
	BaseURL string        `json:"base_url"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// WhisperCPPSTTConfig holds the offline whisper.cpp CLI settings
type WhisperCPPSTTConfig struct {
	Enabled    bool          `json:"enabled"`
	BinaryPath string        `json:"binary_path"`
	ModelPath  string        `json:"model_path"`
	Language   string        `json:"language"`
	Timeout    time.Duration `json:"timeout"`
}

// ConnectivityConfig holds the network reachability probe settings
type ConnectivityConfig struct {
	CheckInterval time.Duration `json:"check_interval" validate:"gt=0"`
	Timeout       time.Duration `json:"timeout" validate:"gt=0"`
	// TestHosts are host:port pairs probed in order; first reachable wins
	TestHosts []string `json:"test_hosts" validate:"min=1"`
}

// APIConfig holds downstream ingestion API settings
type APIConfig struct {
	Endpoint      string        `json:"endpoint"`
	Key           string        `json:"key"`
	Timeout       time.Duration `json:"timeout" validate:"gt=0"`
	RetryAttempts int           `json:"retry_attempts" validate:"gte=1"`
	RetryDelay    time.Duration `json:"retry_delay" validate:"gt=0"`
	DeviceName    string        `json:"device_name"`

	// MaxRecords bounds the in-memory transcription ring
	MaxRecords int `json:"max_records" validate:"gt=0"`
}

// AggregatorConfig holds hourly text aggregation settings
type AggregatorConfig struct {
	Enabled       bool          `json:"enabled"`
	SilenceGap    time.Duration `json:"silence_gap" validate:"gt=0"`
	CheckInterval time.Duration `json:"check_interval" validate:"gt=0"`
}

// RealtimeConfig holds the WebSocket event hub settings
type RealtimeConfig struct {
	Enabled           bool          `json:"enabled"`
	MaxConnections    int           `json:"max_connections" validate:"gt=0"`
	BufferSize        int           `json:"buffer_size" validate:"gt=0"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" validate:"gt=0"`
}

// AMQPConfig holds optional message-queue publication settings
type AMQPConfig struct {
	URL       string `json:"url"`
	QueueName string `json:"queue_name"`
}

// HTTPConfig holds the control/query HTTP server settings
type HTTPConfig struct {
	Enabled         bool          `json:"enabled"`
	Port            int           `json:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `json:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `json:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `json:"format" validate:"oneof=text json"`
}

// MaxChunkSamples derives the forced-flush segment bound from the chunk
// duration and sample rate.
func (c *Config) MaxChunkSamples() int {
	return int(float64(c.Audio.SampleRate) * c.Processing.ChunkDuration.Seconds())
}

// FrameSamples is the fixed VAD frame size in samples.
func (c *Config) FrameSamples() int {
	return c.Processing.BufferSize / (c.Audio.BitDepth / 8)
}

// Load reads configuration from the environment (and an optional .env file)
// and validates it.
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	if loadErr := godotenv.Load(); loadErr == nil {
		if abs, absErr := filepath.Abs(".env"); absErr == nil {
			logger.WithFields(logrus.Fields{
				"working_dir": wd,
				"path":        abs,
			}).Info("Loaded .env file")
		}
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	cfg := &Config{
		Audio: AudioConfig{
			Device:        getEnv("AUDIO_DEVICE", "auto"),
			SampleRate:    getEnvInt("AUDIO_SAMPLE_RATE", 16000),
			Channels:      getEnvInt("AUDIO_CHANNELS", 1),
			BitDepth:      16,
			QueueCapacity: getEnvInt("AUDIO_QUEUE_CAPACITY", 256),
		},
		Processing: ProcessingConfig{
			SilenceThreshold: getEnvFloat("SILENCE_THRESHOLD", 500),
			SilenceDuration:  getEnvDuration("SILENCE_DURATION", 1500*time.Millisecond),
			ChunkDuration:    getEnvDuration("CHUNK_DURATION", 30*time.Second),
			BufferSize:       getEnvInt("BUFFER_SIZE", 4096),
		},
		STT: STTConfig{
			PrimaryEngine:  getEnv("STT_PRIMARY_ENGINE", "whispercpp"),
			FallbackEngine: getEnv("STT_FALLBACK_ENGINE", "whispercpp"),
			EnableFallback: getEnvBool("STT_ENABLE_FALLBACK", true),
			Google: GoogleSTTConfig{
				Enabled:         getEnvBool("GOOGLE_STT_ENABLED", false),
				APIKey:          getEnv("GOOGLE_STT_API_KEY", ""),
				CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
				Language:        getEnv("GOOGLE_STT_LANGUAGE", "pt-BR"),
				Model:           getEnv("GOOGLE_STT_MODEL", ""),
			},
			Amazon: AmazonSTTConfig{
				Enabled:         getEnvBool("AMAZON_STT_ENABLED", false),
				Region:          getEnv("AWS_REGION", "us-east-1"),
				AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
				Language:        getEnv("AMAZON_STT_LANGUAGE", "pt-BR"),
			},
			OpenAI: OpenAISTTConfig{
				Enabled: getEnvBool("OPENAI_STT_ENABLED", false),
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_STT_BASE_URL", "https://api.openai.com/v1/audio/transcriptions"),
				Model:   getEnv("OPENAI_STT_MODEL", "whisper-1"),
				Timeout: getEnvDuration("OPENAI_STT_TIMEOUT", 30*time.Second),
			},
			WhisperCPP: WhisperCPPSTTConfig{
				Enabled:    getEnvBool("WHISPERCPP_ENABLED", true),
				BinaryPath: getEnv("WHISPERCPP_BINARY_PATH", "whisper-cli"),
				ModelPath:  getEnv("WHISPERCPP_MODEL_PATH", "models/ggml-base.bin"),
				Language:   getEnv("WHISPERCPP_LANGUAGE", "pt"),
				Timeout:    getEnvDuration("WHISPERCPP_TIMEOUT", 120*time.Second),
			},
		},
		Connectivity: ConnectivityConfig{
			CheckInterval: getEnvDuration("CONNECTIVITY_CHECK_INTERVAL", 30*time.Second),
			Timeout:       getEnvDuration("CONNECTIVITY_TIMEOUT", 5*time.Second),
			TestHosts:     getEnvList("CONNECTIVITY_TEST_HOSTS", []string{"8.8.8.8:53", "1.1.1.1:53", "208.67.222.222:53"}),
		},
		API: APIConfig{
			Endpoint:      getEnv("API_ENDPOINT", ""),
			Key:           getEnv("API_KEY", ""),
			Timeout:       getEnvDuration("API_TIMEOUT", 10*time.Second),
			RetryAttempts: getEnvInt("API_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("API_RETRY_DELAY", time.Second),
			DeviceName:    getEnv("API_DEVICE_NAME", "raspberry-pi"),
			MaxRecords:    getEnvInt("TRANSCRIPTION_MAX_RECORDS", 1000),
		},
		Aggregator: AggregatorConfig{
			Enabled:       getEnvBool("AGGREGATOR_ENABLED", true),
			SilenceGap:    getEnvDuration("AGGREGATOR_SILENCE_GAP", 5*time.Minute),
			CheckInterval: getEnvDuration("AGGREGATOR_CHECK_INTERVAL", time.Minute),
		},
		Realtime: RealtimeConfig{
			Enabled:           getEnvBool("REALTIME_ENABLED", true),
			MaxConnections:    getEnvInt("REALTIME_MAX_CONNECTIONS", 50),
			BufferSize:        getEnvInt("REALTIME_BUFFER_SIZE", 100),
			HeartbeatInterval: getEnvDuration("REALTIME_HEARTBEAT_INTERVAL", 30*time.Second),
		},
		AMQP: AMQPConfig{
			URL:       getEnv("AMQP_URL", ""),
			QueueName: getEnv("AMQP_QUEUE_NAME", "transcriptions"),
		},
		HTTP: HTTPConfig{
			Enabled:         getEnvBool("HTTP_ENABLED", true),
			Port:            getEnvInt("HTTP_PORT", 8080),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural constraints and cross-field consistency.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if c.Processing.BufferSize%(c.Audio.BitDepth/8) != 0 {
		return errors.NewInvalidInput("BUFFER_SIZE must be a multiple of the sample width",
			map[string]interface{}{"buffer_size": c.Processing.BufferSize})
	}

	if c.FrameSamples() > c.MaxChunkSamples() {
		return errors.NewInvalidInput("frame size exceeds max chunk size",
			map[string]interface{}{
				"frame_samples":     c.FrameSamples(),
				"max_chunk_samples": c.MaxChunkSamples(),
			})
	}

	return nil
}

// ApplyLogging configures the logger from the logging section.
func (c *Config) ApplyLogging(logger *logrus.Logger) {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}

// getEnvList retrieves a comma separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
