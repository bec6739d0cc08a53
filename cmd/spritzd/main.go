package main

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"

	"github.com/spritz-hq/spritz/adapters/chain"
	"github.com/spritz-hq/spritz/adapters/events"
	"github.com/spritz-hq/spritz/adapters/store"
	"github.com/spritz-hq/spritz/adapters/tokenizer"
	"github.com/spritz-hq/spritz/config"
	"github.com/spritz-hq/spritz/safe"
	"github.com/spritz-hq/spritz/service"
	"github.com/spritz-hq/spritz/transport/http"
	"github.com/spritz-hq/spritz/vault"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(os.Getenv("SPRITZ_CONFIG_FILE"))
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("failed to parse redis url", "err", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redisClient},
		watermill.NewSlogLogger(log),
	)
	if err != nil {
		log.Error("failed to create event publisher", "err", err)
		os.Exit(1)
	}

	jwtTokenizer, err := tokenizer.NewJWTTokenizer([]byte(cfg.SessionSecret))
	if err != nil {
		log.Error("failed to create tokenizer", "err", err)
		os.Exit(1)
	}

	redisStore := store.NewRedisStore(redisClient)
	eventPub := events.NewWatermillPublisher(publisher)

	deriver, err := safe.NewDeriver(safe.CanonicalParams(), safe.CanonicalSignerParams())
	if err != nil {
		log.Error("failed to create wallet deriver", "err", err)
		os.Exit(1)
	}

	var relayer *ecdsa.PrivateKey
	if cfg.RelayerKey != "" {
		relayer, err = ethcrypto.HexToECDSA(cfg.RelayerKey)
		if err != nil {
			log.Error("failed to parse relayer key", "err", err)
			os.Exit(1)
		}
	}
	backend, err := chain.Dial(context.Background(), cfg.RPCURL, relayer)
	if err != nil {
		log.Error("failed to connect to chain", "rpc", cfg.RPCURL, "err", err)
		os.Exit(1)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationRequired,
		},
	})
	if err != nil {
		log.Error("failed to create webauthn", "err", err)
		os.Exit(1)
	}

	authService := service.NewAuthService(redisStore, redisStore, jwtTokenizer, eventPub, deriver, log)
	rescueService := service.NewRescueService(
		redisStore, redisStore, redisStore, jwtTokenizer, eventPub, log,
		cfg.RescueAddressCeiling, cfg.RescueIPCeiling,
	)
	ceremonyService := service.NewCeremonyService(
		wa, redisStore, redisStore, redisStore, eventPub, deriver, authService, rescueService, log,
	)
	aggregator := vault.NewAggregator(backend, log)

	handlers := http.NewHandlers(
		authService, ceremonyService,
		aggregator, deriver, backend, redisStore, log,
	)
	router := http.SetupRouter(handlers)

	log.Info("starting spritzd", "addr", cfg.ListenAddr, "rp_id", cfg.RPID)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
