package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for both the upload service and the report bot.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Auth       AuthConfig
	Moderation ModerationConfig
	Storage    StorageConfig
	Queue      QueueConfig
	IRC        IRCConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr        string
	AllowedOrigins  []string
	MaxUploadBytes  int64
	UploadInterval  time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// AuthConfig holds identity token settings. Issuer and audience are only
// checked when set.
type AuthConfig struct {
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	AccountClaim string
}

// ModerationConfig holds image classification settings.
type ModerationConfig struct {
	Enabled               bool
	Provider              string // "vision", "rekognition" or "mock"
	AWSRegion             string
	VisionCredentialsFile string
	// Policy is an ordered category=LIKELIHOOD list, e.g. "adult=LIKELY,violence=LIKELY".
	Policy  string
	Timeout time.Duration
}

// StorageConfig holds avatar storage settings.
type StorageConfig struct {
	Backend           string // "local" or "s3"
	Root              string
	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	LargeSize         int
	SmallSize         int
}

// QueueConfig holds report queue settings.
type QueueConfig struct {
	Backend      string // "file" or "redis"
	FilePath     string
	RedisAddr    string
	RedisKey     string
	PollInterval time.Duration
}

// IRCConfig holds the report bot's chat session settings.
type IRCConfig struct {
	Server           string
	TLS              bool
	WebSocketURL     string
	Nickname         string
	Password         string
	Channel          string
	NoticeDelay      time.Duration
	PingInterval     time.Duration
	JoinTimeout      time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	PIDFile          string
}

// Load reads an optional .env file, then parses flags and applies environment
// overrides.
func Load() *Config {
	loadEnvFile()

	cfg := &Config{}

	httpAddr := flag.String("http", ":5000", "HTTP server address")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	storageRoot := flag.String("avatar-dir", "./avatars", "Directory holding uploaded avatars")
	queueFile := flag.String("queue-file", "irc_messages.txt", "Report queue file shared by uploader and bot")
	ircServer := flag.String("irc-server", "irc.chateagratis.chat:6667", "IRC server host:port")
	ircChannel := flag.String("irc-channel", "#opers", "Channel receiving reports")
	ircNick := flag.String("irc-nick", "FilesControl", "Bot nickname")
	pidFile := flag.String("pid-file", "irc_bot.pid", "Report bot instance lock file")

	flag.Parse()

	applyEnvOverrides(httpAddr, logLevel, storageRoot, queueFile, ircServer, ircChannel, ircNick, pidFile)

	cfg.Server = loadServerConfig(*httpAddr)
	cfg.Logging = LoggingConfig{Level: *logLevel}
	cfg.Auth = loadAuthConfig()
	cfg.Moderation = loadModerationConfig()
	cfg.Storage = loadStorageConfig(*storageRoot)
	cfg.Queue = loadQueueConfig(*queueFile)
	cfg.IRC = loadIRCConfig(*ircServer, *ircChannel, *ircNick, *pidFile)

	return cfg
}

// ValidateUploader checks the settings the upload service cannot start without.
func (c *Config) ValidateUploader() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_KEY is required"))
	}
	if c.Storage.Backend == "s3" && c.Storage.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required for the s3 storage backend"))
	}
	if c.Storage.Backend == "local" && c.Storage.Root == "" {
		errs = append(errs, errors.New("AVATAR_DIR is required for the local storage backend"))
	}
	return errors.Join(errs...)
}

// ValidateReportBot checks the settings the report bot cannot start without.
func (c *Config) ValidateReportBot() error {
	var errs []error
	if c.IRC.Server == "" && c.IRC.WebSocketURL == "" {
		errs = append(errs, errors.New("IRC_SERVER or IRC_WEBSOCKET_URL is required"))
	}
	if !strings.HasPrefix(c.IRC.Channel, "#") && !strings.HasPrefix(c.IRC.Channel, "&") {
		errs = append(errs, errors.New("IRC_CHANNEL must be a channel name"))
	}
	if c.IRC.Nickname == "" {
		errs = append(errs, errors.New("IRC_NICK is required"))
	}
	if c.IRC.PIDFile == "" {
		errs = append(errs, errors.New("PID_FILE is required"))
	}
	return errors.Join(errs...)
}

func loadEnvFile() {
	path := getEnvOrDefault("ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	// Variables already set in the process environment take precedence.
	_ = godotenv.Load(path)
}

func loadServerConfig(httpAddr string) ServerConfig {
	return ServerConfig{
		HTTPAddr:        httpAddr,
		AllowedOrigins:  splitList(getEnvOrDefault("ALLOWED_ORIGINS", "https://webchat.t-chat.fr")),
		MaxUploadBytes:  getEnvInt64("MAX_UPLOAD_BYTES", 10<<20),
		UploadInterval:  getEnvDuration("UPLOAD_MIN_INTERVAL", 10*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:    os.Getenv("JWT_KEY"),
		JWTIssuer:    os.Getenv("JWT_ISSUER"),
		JWTAudience:  os.Getenv("JWT_AUDIENCE"),
		AccountClaim: getEnvOrDefault("JWT_ACCOUNT_CLAIM", "account"),
	}
}

func loadModerationConfig() ModerationConfig {
	enabled := true
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("IMAGE_MODERATION_ENABLED"))); v == "false" || v == "0" {
		enabled = false
	}

	return ModerationConfig{
		Enabled:               enabled,
		Provider:              strings.ToLower(getEnvOrDefault("MODERATION_PROVIDER", "vision")),
		AWSRegion:             os.Getenv("AWS_REGION"),
		VisionCredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Policy:                os.Getenv("MODERATION_POLICY"),
		Timeout:               getEnvDuration("MODERATION_TIMEOUT", 5*time.Second),
	}
}

func loadStorageConfig(root string) StorageConfig {
	return StorageConfig{
		Backend:           strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", "local")),
		Root:              root,
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3Prefix:          os.Getenv("S3_PREFIX"),
		S3Region:          getEnvOrDefault("S3_REGION", os.Getenv("AWS_REGION")),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		LargeSize:         getEnvInt("THUMBNAIL_LARGE", 200),
		SmallSize:         getEnvInt("THUMBNAIL_SMALL", 80),
	}
}

func loadQueueConfig(path string) QueueConfig {
	return QueueConfig{
		Backend:      strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", "file")),
		FilePath:     path,
		RedisAddr:    getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisKey:     getEnvOrDefault("REDIS_QUEUE_KEY", "avatarguard:reports"),
		PollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", time.Second),
	}
}

func loadIRCConfig(server, channel, nick, pidFile string) IRCConfig {
	return IRCConfig{
		Server:           server,
		TLS:              getEnvBool("IRC_TLS"),
		WebSocketURL:     os.Getenv("IRC_WEBSOCKET_URL"),
		Nickname:         nick,
		Password:         os.Getenv("IRC_PASSWORD"),
		Channel:          channel,
		NoticeDelay:      getEnvDuration("IRC_NOTICE_DELAY", 500*time.Millisecond),
		PingInterval:     getEnvDuration("IRC_PING_INTERVAL", 2*time.Minute),
		JoinTimeout:      getEnvDuration("IRC_JOIN_TIMEOUT", 30*time.Second),
		ReconnectInitial: getEnvDuration("IRC_RECONNECT_INITIAL", 5*time.Second),
		ReconnectMax:     getEnvDuration("IRC_RECONNECT_MAX", 5*time.Minute),
		PIDFile:          pidFile,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "true" || v == "1"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyEnvOverrides(
	httpAddr *string,
	logLevel *string,
	storageRoot *string,
	queueFile *string,
	ircServer *string,
	ircChannel *string,
	ircNick *string,
	pidFile *string,
) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		*httpAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*logLevel = v
	}
	if v := os.Getenv("AVATAR_DIR"); v != "" {
		*storageRoot = v
	}
	if v := os.Getenv("QUEUE_FILE"); v != "" {
		*queueFile = v
	}
	if v := os.Getenv("IRC_SERVER"); v != "" {
		*ircServer = v
	}
	if v := os.Getenv("IRC_CHANNEL"); v != "" {
		*ircChannel = v
	}
	if v := os.Getenv("IRC_NICK"); v != "" {
		*ircNick = v
	}
	if v := os.Getenv("PID_FILE"); v != "" {
		*pidFile = v
	}
}
