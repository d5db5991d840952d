package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/peertrade-network/peertrade-daemon/internal/config"
	"github.com/peertrade-network/peertrade-daemon/internal/core/application"
	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	dbbadger "github.com/peertrade-network/peertrade-daemon/internal/infrastructure/storage/db/badger"
	wstransport "github.com/peertrade-network/peertrade-daemon/internal/infrastructure/transport/ws"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Panic("invalid config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	dbManager, err := dbbadger.NewDbManager(config.GetDbDir(), nil)
	if err != nil {
		log.WithError(err).Panic("error while opening db")
	}
	defer dbManager.Close()

	// Replicated stores: mailbox entries live in the protected store, trade
	// statistics in the append-only one.
	protectedStore := application.NewProtectedDataStoreService()
	protectedStore.AddService(application.NewMapStoreService(
		"mailbox", func(payload domain.ProtectedPayload) bool {
			_, ok := payload.(*domain.MailboxPayload)
			return ok
		},
	))
	statsStore := application.NewAppendOnlyDataStoreService()

	converter := application.NewTradeStatisticsConverter(
		dbManager.LegacyTradeStatisticsRepository(),
		dbManager.TradeStatisticsRepository(),
		statsStore,
	)
	if err := converter.ConvertPersistedData(context.Background()); err != nil {
		log.WithError(err).Panic("error while migrating legacy trade statistics")
	}

	listenAddr := config.GetString(config.ListenAddrKey)
	transport := wstransport.NewService(
		listenAddr,
		[]byte(listenAddr),
		protectedStore,
		config.GetDuration(config.SendTimeoutKey),
	)

	// TODO: swap for the external wallet daemon client once one is wired.
	wallet := newDevWalletService()

	manager := application.NewTradeManager(
		dbManager.TradeRepository(),
		dbManager.TradeStatisticsRepository(),
		transport,
		wallet,
		statsStore,
		config.GetDuration(config.ResponseTimeoutKey),
		transport.RemoveMailboxMessage,
	)
	manager.Start()

	if btcAddr := config.GetString(config.MakerBtcAddressKey); btcAddr != "" {
		manager.RegisterAtomicOffer(application.AtomicOfferInfo{
			OfferId:         listenAddr,
			MakerBtcAddress: btcAddr,
			MakerBsqAddress: config.GetString(config.MakerBsqAddressKey),
			MakerIsBtcBuyer: true,
		})
	}

	log.Debug("starting daemon")

	var g errgroup.Group
	g.Go(transport.Start)

	transport.PickupMailbox()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	transport.Stop()
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("transport terminated with error")
	}

	log.Debug("exiting")
}
