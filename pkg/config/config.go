package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config carries everything main needs to wire the service.
type Config struct {
	LogLevel string

	// Signaling engine
	SIPTransport  string
	SIPListenAddr string

	// Fallback UAS (used when the full engine is disabled)
	ResponderEnabled    bool
	ResponderListenAddr string

	// Advertised media endpoint for answer SDP
	MediaIP string
	RTPPort int

	// Lifecycle behavior
	AnswerPolicy    string
	RetentionWindow time.Duration
	MaxSessions     int

	// Stale establishing sessions are swept on a cron schedule
	StaleSweepSchedule string
	StaleMaxAge        time.Duration

	// Notification fan-out
	HTTPListenAddr string
	EventQueueSize int
	AMQPUrl        string
	AMQPExchange   string
}

// Load reads .env (when present) and the process environment.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		logger.Debug("No .env file found, using process environment")
	}

	cfg := &Config{
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		SIPTransport:        getEnv("SIP_TRANSPORT", "udp"),
		SIPListenAddr:       getEnv("SIP_LISTEN_ADDR", "0.0.0.0:5060"),
		ResponderEnabled:    getEnvBool("RESPONDER_ENABLED", false),
		ResponderListenAddr: getEnv("RESPONDER_LISTEN_ADDR", "0.0.0.0:5059"),
		MediaIP:             getEnv("MEDIA_IP", "127.0.0.1"),
		RTPPort:             getEnvInt("RTP_PORT", 10000),
		AnswerPolicy:        getEnv("ANSWER_POLICY", "staged"),
		RetentionWindow:     getEnvDuration("RETENTION_WINDOW", 300*time.Second),
		MaxSessions:         getEnvInt("MAX_SESSIONS", 0),
		StaleSweepSchedule:  getEnv("STALE_SWEEP_SCHEDULE", "@every 1m"),
		StaleMaxAge:         getEnvDuration("STALE_MAX_AGE", 10*time.Minute),
		HTTPListenAddr:      getEnv("HTTP_LISTEN_ADDR", "0.0.0.0:8000"),
		EventQueueSize:      getEnvInt("EVENT_QUEUE_SIZE", 256),
		AMQPUrl:             getEnv("AMQP_URL", ""),
		AMQPExchange:        getEnv("AMQP_EXCHANGE", "siprec.calls"),
	}

	if cfg.RTPPort <= 0 || cfg.RTPPort > 65535 {
		return nil, fmt.Errorf("invalid RTP_PORT %d", cfg.RTPPort)
	}
	if cfg.AnswerPolicy != "staged" && cfg.AnswerPolicy != "auto" {
		return nil, fmt.Errorf("invalid ANSWER_POLICY %q, want staged or auto", cfg.AnswerPolicy)
	}

	return cfg, nil
}

// ApplyLogLevel sets the logger level, falling back to info on bad values.
func (c *Config) ApplyLogLevel(logger *logrus.Logger) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.WithField("level", c.LogLevel).Warn("Unknown log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	// Bare numbers are seconds, matching how SBC configs express windows.
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
