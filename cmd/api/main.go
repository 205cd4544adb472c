package main

import (
	"context"
	"log"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/handler"
	"app/internal/infra/db"
	"app/internal/infra/provider"
	infraRepo "app/internal/infra/repository"
	"app/internal/server"
	"app/internal/usecase"

	"github.com/joho/godotenv"
)

func main() {
	//.envは無ければ環境変数だけで動く
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("[main] db connect: %v", err)
	}
	if err := gormDB.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.Cart{},
		&model.CartItem{},
		&model.PaymentAttempt{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderPayment{},
		&model.Refund{},
		&model.AuditLog{},
	); err != nil {
		log.Fatalf("[main] migrate: %v", err)
	}

	//同一グループ（cart_id, currency）の未決着attemptを高々1件に制限する部分uniqueIndex。
	//アプリ側の直列化に加えてスキーマでも守る（複数インスタンス対策）。
	if err := gormDB.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_attempts_open_group " +
			"ON payment_attempts (cart_id, currency) " +
			"WHERE status IN ('CREATED', 'AWAITING_CONFIRMATION')",
	).Error; err != nil {
		log.Fatalf("[main] migrate: %v", err)
	}

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	cartRepo := infraRepo.NewCartGormRepository(gormDB)
	cartItemRepo := infraRepo.NewCartItemGormRepository(gormDB)
	attemptRepo := infraRepo.NewPaymentAttemptGormRepository(gormDB)
	txManager := infraRepo.NewTxManagerGorm(gormDB)

	//決済レール
	onchain, err := provider.NewOnChainGateway(provider.OnChainConfig{
		RPCURL:           cfg.SolanaRPCURL,
		PayeeAddress:     cfg.SolanaPayeeAddress,
		WebhookSecret:    cfg.SolanaWebhookSecret,
		MinConfirmations: uint64(cfg.SolanaMinConfirmations),
		TreasuryKey:      cfg.SolanaTreasuryKey,
		Mints:            cfg.SolanaMints,
	})
	if err != nil {
		log.Fatalf("[main] onchain gateway: %v", err)
	}

	providers := usecase.ProviderSet{
		model.ProviderCard:        provider.NewCardGateway(cfg.CardGatewayURL, cfg.CardAPIKey, cfg.CardWebhookSecret),
		model.ProviderMobileMoney: provider.NewMobileMoneyGateway(cfg.MomoGatewayURL, cfg.MomoAPIKey, cfg.MomoWebhookSecret),
		model.ProviderOnChain:     onchain,
	}

	//Usecase生成
	refundSvc := usecase.NewRefundService(txManager, providers)
	finalizeUC := usecase.NewFinalizeUsecase(txManager, refundSvc)
	intentUC := usecase.NewIntentUsecase(txManager, cartRepo, cartItemRepo, attemptRepo, providers)
	reconcileUC := usecase.NewReconcileUsecase(txManager, attemptRepo, cartRepo, providers, finalizeUC, refundSvc)
	authUC := usecase.NewAuthUsecase(cfg, userRepo)
	productUC := usecase.NewProductUsecase(productRepo)
	cartUC := usecase.NewCartUsecase(cartRepo, cartItemRepo, productRepo, attemptRepo, refundSvc)
	orderUC := usecase.NewOrderUsecase(txManager)

	//発行しきれなかった返金を拾い直す背景ワーカー
	go func() {
		interval := time.Duration(cfg.RefundWorkerIntervalSec) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			refundSvc.ProcessPending(context.Background())
		}
	}()

	//Handler生成・起動
	h := server.Handlers{
		Auth:     handler.NewAuthHandler(authUC),
		Product:  handler.NewProductHandler(productUC),
		Cart:     handler.NewCartHandler(cartUC),
		Checkout: handler.NewCheckoutHandler(intentUC, reconcileUC, finalizeUC),
		Order:    handler.NewOrderHandler(orderUC),
		Webhook:  handler.NewWebhookHandler(reconcileUC),
	}

	if err := server.Start(cfg, h); err != nil {
		log.Fatalf("[main] server: %v", err)
	}
}
