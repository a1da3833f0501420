package env

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"go.uber.org/zap"
)

// 抽選ゲートは30秒。ポーリング間隔はその半分以下でなければゲート内で1回も観測できない可能性がある
const maxPollInterval = 15 * time.Second

// epochLayouts are tried in order when parsing DRAW_EPOCH.
var epochLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type rawConfig struct {
	ServerPort        int           `env:"SERVER_PORT" envDefault:"8080"`
	DatabaseURL       string        `env:"DATABASE_URL" envDefault:"./data/draws.db"`
	DatabaseAuthToken string        `env:"DATABASE_AUTH_TOKEN"`
	TelegramToken     string        `env:"TELEGRAM_TOKEN"`
	AdminTelegramIDs  []int64       `env:"ADMIN_TELEGRAM_IDS" envSeparator:","`
	TelegramNotify    bool          `env:"TELEGRAM_NOTIFY" envDefault:"true"`
	InitDataMaxAge    time.Duration `env:"INIT_DATA_MAX_AGE" envDefault:"0s"`
	DrawEpoch         string        `env:"DRAW_EPOCH" envDefault:"2025-11-28T00:00:00"`
	DrawWindowLength  time.Duration `env:"DRAW_WINDOW_LENGTH" envDefault:"10m"`
	DrawPollInterval  time.Duration `env:"DRAW_POLL_INTERVAL" envDefault:"10s"`
	DisplayTZ         string        `env:"DRAW_DISPLAY_TZ" envDefault:"Local"`
	DebugMode         bool          `env:"DEBUG_MODE" envDefault:"false"`
}

// Config is the resolved process configuration.
type Config struct {
	ServerPort        int
	DatabaseURL       string
	DatabaseAuthToken string
	TelegramToken     string
	AdminTelegramIDs  []int64
	TelegramNotify    bool
	InitDataMaxAge    time.Duration
	DrawEpoch         time.Time
	DrawWindowLength  time.Duration
	DrawPollInterval  time.Duration
	DisplayLocation   *time.Location
	DebugMode         bool
}

// Value は最後に読み込んだ設定
var Value *Config

// LoadEnv は.envを読み込んだ上で環境変数から設定を構築し、Valueに保存する。
func LoadEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .envが無いのは正常
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	Value = cfg
	return cfg, nil
}

// Parse builds a Config from the current process environment only.
func Parse() (*Config, error) {
	var raw rawConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return resolve(raw)
}

func resolve(raw rawConfig) (*Config, error) {
	loc := time.Local
	if tz := strings.TrimSpace(raw.DisplayTZ); tz != "" && tz != "Local" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid DRAW_DISPLAY_TZ %q: %w", tz, err)
		}
		loc = l
	}

	epoch, err := parseEpoch(raw.DrawEpoch)
	if err != nil {
		return nil, err
	}

	if raw.DrawPollInterval <= 0 || raw.DrawPollInterval > maxPollInterval {
		return nil, fmt.Errorf("DRAW_POLL_INTERVAL must be in (0, %s], got %s", maxPollInterval, raw.DrawPollInterval)
	}
	if raw.DrawWindowLength < 9*time.Minute {
		return nil, fmt.Errorf("DRAW_WINDOW_LENGTH must be at least 9m, got %s", raw.DrawWindowLength)
	}
	if raw.ServerPort <= 0 || raw.ServerPort > 65535 {
		return nil, fmt.Errorf("invalid SERVER_PORT: %d", raw.ServerPort)
	}
	if strings.TrimSpace(raw.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL must not be empty")
	}

	return &Config{
		ServerPort:        raw.ServerPort,
		DatabaseURL:       strings.TrimSpace(raw.DatabaseURL),
		DatabaseAuthToken: raw.DatabaseAuthToken,
		TelegramToken:     strings.TrimSpace(raw.TelegramToken),
		AdminTelegramIDs:  raw.AdminTelegramIDs,
		TelegramNotify:    raw.TelegramNotify,
		InitDataMaxAge:    raw.InitDataMaxAge,
		DrawEpoch:         epoch,
		DrawWindowLength:  raw.DrawWindowLength,
		DrawPollInterval:  raw.DrawPollInterval,
		DisplayLocation:   loc,
		DebugMode:         raw.DebugMode,
	}, nil
}

// parseEpoch はオフセット指定が無ければサーバーのローカル時刻として解釈する。
// DRAW_DISPLAY_TZ は表示専用で、ウィンドウ境界には影響しない
func parseEpoch(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range epochLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid DRAW_EPOCH %q", value)
}
