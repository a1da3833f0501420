package main

import (
	"github.com/nantokaworks/giveaway-draw/internal/clock"
	"github.com/nantokaworks/giveaway-draw/internal/env"
	"github.com/nantokaworks/giveaway-draw/internal/notify"
	"github.com/nantokaworks/giveaway-draw/internal/scheduler"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/tgauth"
	"go.uber.org/zap"
)

// newVerifier builds the initData verifier from configuration.
func newVerifier(cfg *env.Config, clk clock.Clock) *tgauth.Verifier {
	if cfg.TelegramToken == "" {
		logger.Warn("TELEGRAM_TOKEN is not set; every submission will be rejected as invalid")
	}
	return &tgauth.Verifier{
		BotToken: cfg.TelegramToken,
		AdminIDs: cfg.AdminTelegramIDs,
		MaxAge:   cfg.InitDataMaxAge,
		Clock:    clk,
	}
}

// notifierOption returns the scheduler option for admin notifications, or
// nil when notifications are disabled or the bot cannot be authorized.
func notifierOption(cfg *env.Config) scheduler.Option {
	if !cfg.TelegramNotify || cfg.TelegramToken == "" || len(cfg.AdminTelegramIDs) == 0 {
		logger.Info("Telegram draw notifications disabled")
		return nil
	}

	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.AdminTelegramIDs, cfg.DisplayLocation)
	if err != nil {
		// 通知は補助機能なので起動は止めない
		logger.Warn("Failed to initialize Telegram notifier", zap.Error(err))
		return nil
	}
	return scheduler.WithNotifier(tg)
}
