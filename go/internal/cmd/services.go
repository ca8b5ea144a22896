package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/clients/ethrpc"
	"github.com/mcdev12/jackpot/go/internal/config"
	"github.com/mcdev12/jackpot/go/internal/jackpot/contract"
	"github.com/mcdev12/jackpot/go/internal/jackpot/gateway"
	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
	"github.com/mcdev12/jackpot/go/internal/jackpot/session"
)

type Services struct {
	Contract *ethrpc.Client
	Metrics  *metrics.Prometheus
	Session  *session.Session
	Gateway  *gateway.Service
	nats     *nats.Conn
}

// Close releases the node and bus connections. The session must already be stopped.
func (s *Services) Close() {
	if s.nats != nil {
		if err := s.nats.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
	s.Contract.Close()
}

func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	// Wire up dependency chain
	// Contract gateway → session (reconciler, ledger, payouts, actions) → view gateway
	mode := contract.ModeReadOnly
	if cfg.Signing() {
		mode = contract.ModeSigning
	}

	client, err := ethrpc.Dial(ctx, ethrpc.Config{
		RPCURL:        cfg.Network.RPCURL,
		WSURL:         cfg.Network.WSURL,
		Contract:      common.HexToAddress(cfg.Network.Contract),
		ChainID:       big.NewInt(cfg.Network.ChainID),
		PrivateKey:    cfg.Network.PrivateKey,
		ABIPath:       cfg.Network.ABIPath,
		MaxBlockRange: cfg.Network.MaxBlockRange,
	}, mode)
	if err != nil {
		return nil, err
	}
	services := &Services{Contract: client, Metrics: metrics.NewPrometheus()}

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), services.Metrics)
	publishers := []session.Publisher{cm}
	if cfg.NATS.Enabled {
		natsCfg := gateway.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		nc, err := gateway.ConnectNATS(natsCfg)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.nats = nc
		publishers = append(publishers, gateway.NewNATSPublisher(nc, cfg.NATS.Subject))
		log.Info().Str("url", cfg.NATS.URL).Str("subject", cfg.NATS.Subject).Msg("mirroring snapshots to NATS")
	}

	sess, err := session.New(session.Deps{
		Gateway:    client,
		Metrics:    services.Metrics,
		Publishers: publishers,
	}, session.Options{
		Variant:               cfg.Game,
		Methods:               cfg.Methods,
		Events:                cfg.Events,
		LedgerSource:          cfg.Sync.LedgerSource,
		FromBlock:             cfg.Network.FromBlock,
		LeaderboardSize:       cfg.Sync.LeaderboardSize,
		PollInterval:          cfg.Sync.PollInterval,
		TickInterval:          cfg.Sync.TickInterval,
		LedgerRefreshInterval: cfg.Sync.LedgerRefreshInterval,
		CallTimeout:           cfg.Sync.CallTimeout,
		ConfirmTimeout:        cfg.Sync.ConfirmTimeout,
	})
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	services.Session = sess
	services.Gateway = gateway.NewService(cm, sess)

	log.Info().
		Str("session_id", sess.ID()).
		Str("contract", cfg.Network.Contract).
		Str("mode", mode.String()).
		Msg("services ready")
	return services, nil
}
