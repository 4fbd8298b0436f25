package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hikat/kyurgen/internal/admin"
	"github.com/hikat/kyurgen/internal/backend"
	"github.com/hikat/kyurgen/internal/config"
	"github.com/hikat/kyurgen/internal/gateway"
	"github.com/hikat/kyurgen/internal/ledger"
	"github.com/hikat/kyurgen/internal/models"
	"github.com/hikat/kyurgen/internal/payment"
	"github.com/hikat/kyurgen/internal/pricing"
	"github.com/hikat/kyurgen/internal/telegram"
	"github.com/hikat/kyurgen/pkg/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var receiptRepo *ledger.ReceiptRepository
	if cfg.MySQLDSN != "" {
		db, err := ledger.Connect(cfg.MySQLDSN)
		if err != nil {
			log.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := ledger.Migrate(ctx, db); err != nil {
			log.Error("failed to run migrations", "err", err)
			os.Exit(1)
		}
		receiptRepo = ledger.NewReceiptRepository(db)
		log.Info("receipt ledger enabled")
	} else {
		log.Warn("MYSQL_DSN not set, receipt ledger disabled")
	}

	client := backend.NewClient(cfg, log)

	dispatcher := gateway.NewDispatcher()
	loader := gateway.NewLoader(cfg.CheckoutScriptURL, cfg.CheckoutPageURL, dispatcher, log)

	var receipts payment.Ledger
	if receiptRepo != nil {
		receipts = receiptRepo
	}
	orchestrator := payment.NewOrchestrator(cfg, log, client, loader, receipts)

	engine := pricing.NewEngine(map[pricing.Key]int64{
		{Mode: models.ModeStandard, Currency: "INR"}: cfg.PriceStandardINR,
		{Mode: models.ModeAI, Currency: "INR"}:       cfg.PriceAIINR,
		{Mode: models.ModeStandard, Currency: "USD"}: cfg.PriceStandardUSD,
		{Mode: models.ModeAI, Currency: "USD"}:       cfg.PriceAIUSD,
	}, cfg.MaxDiscountPercent)

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "err", err)
		os.Exit(1)
	}
	log.Info("authorized on telegram", "username", api.Self.UserName)

	bot := telegram.NewBot(cfg, api, log, client, orchestrator, engine)

	srv := admin.NewServer(cfg, log, dispatcher, receiptRepo)
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Error("admin server stopped", "err", err)
			stop()
		}
	}()

	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("bot stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
