package internal

import (
	"fmt"
	"shm-chat/shm"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"google.golang.org/grpc/backoff"
)

var validate = validator.New()

// Config is shared by the server and client binaries. Every key has a
// default so both run without a .env file.
type Config struct {
	SegmentName string `env:"SEGMENT_NAME,default=default" validate:"required,max=64,excludesall=/"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`

	PollInterval       time.Duration `env:"POLL_INTERVAL,default=100ms" validate:"gt=0"`
	ScanInterval       time.Duration `env:"SCAN_INTERVAL,default=5s" validate:"gt=0"`
	EvictionThreshold  time.Duration `env:"EVICTION_THRESHOLD,default=30s" validate:"gtfield=ScanInterval"`
	ServerWaitTimeout  time.Duration `env:"SERVER_WAIT_TIMEOUT,default=5s" validate:"gte=0"`
	ServerWaitInterval time.Duration `env:"SERVER_WAIT_INTERVAL,default=100ms" validate:"gt=0"`
	MetricInterval     time.Duration `env:"METRIC_INTERVAL,default=30s" validate:"gt=0"`

	LockBaseDelay  time.Duration `env:"LOCK_BASE_DELAY,default=50us" validate:"gt=0"`
	LockMaxDelay   time.Duration `env:"LOCK_MAX_DELAY,default=5ms" validate:"gtefield=LockBaseDelay"`
	LockMaxRetries int           `env:"LOCK_MAX_RETRIES,default=2000" validate:"gte=0"`

	HistoryLimit int `env:"HISTORY_LIMIT,default=50" validate:"gt=0,lte=1000"`

	ModerationEnabled bool   `env:"MODERATION_ENABLED,default=false"`
	CensoredDir       string `env:"CENSORED_DIR"`
	CharReplacement   string `env:"CHARACTER_REPLACEMENT,default=*"`

	ClientName string `env:"CLIENT_NAME" validate:"max=31"`
	Colours    bool   `env:"COLOURS,default=true"`
	DebugPort  int    `env:"DEBUG_PORT,default=0" validate:"gte=0,lte=65535"`
}

// LoadConfig reads an optional .env file, then the environment, then validates.
// Variables already set in the environment win over the .env file.
func LoadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("failed to load %v: %w", files, err)
	}
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := CharacterRune(config.CharReplacement); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LockPolicy maps the LOCK_* keys onto the spinlock backoff.
func (c Config) LockPolicy() shm.LockPolicy {
	p := shm.DefaultLockPolicy()
	p.Backoff = backoff.Config{
		BaseDelay:  c.LockBaseDelay,
		Multiplier: p.Backoff.Multiplier,
		Jitter:     p.Backoff.Jitter,
		MaxDelay:   c.LockMaxDelay,
	}
	p.MaxRetries = c.LockMaxRetries
	return p
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
