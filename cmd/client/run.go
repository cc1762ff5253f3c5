package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cbodonnell/harbor/client/chat"
	"github.com/cbodonnell/harbor/client/network"
	"github.com/cbodonnell/harbor/client/presence"
	"github.com/cbodonnell/harbor/client/session"
	"github.com/cbodonnell/harbor/pkg/api"
	"github.com/cbodonnell/harbor/pkg/auth"
	"github.com/cbodonnell/harbor/pkg/config"
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/messages"
	"github.com/cbodonnell/harbor/pkg/repositories"
	"github.com/cbodonnell/harbor/pkg/repositories/models"
	"github.com/cbodonnell/harbor/pkg/workers"
)

const (
	shutdownTimeout = 5 * time.Second
	archiveBuffer   = 256
)

func newLogger(cfg config.LogConfig) (*log.Logger, error) {
	level, err := log.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := log.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	return log.New(os.Stdout, format, level), nil
}

func newRepository(ctx context.Context, cfg config.StorageConfig) (repositories.Repository, error) {
	switch cfg.Driver {
	case config.StorageDriverSQLite:
		repo, err := repositories.NewSQLiteRepository(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.StorageDriverPostgres:
		repo, err := repositories.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, nil
	}
}

// newCredentialProvider returns nil for anonymous play.
func newCredentialProvider(cfg config.AuthConfig) auth.CredentialProvider {
	switch {
	case cfg.IDToken != "":
		return &auth.StaticProvider{IDToken: cfg.IDToken}
	case cfg.FirebaseAPIKey != "":
		return auth.NewFirebaseProvider(auth.FirebaseOptions{
			APIKey:       cfg.FirebaseAPIKey,
			RefreshToken: cfg.RefreshToken,
			Email:        cfg.Email,
			Password:     cfg.Password,
		})
	default:
		return nil
	}
}

// acquireCredential resolves the credential up front so the stored profile
// of the account can be restored before announcing. The returned provider
// replays the outcome to the session without asking again.
func acquireCredential(ctx context.Context, provider auth.CredentialProvider) (*auth.Credential, auth.CredentialProvider) {
	if provider == nil {
		return nil, nil
	}
	cred, err := provider.Credential(ctx)
	return cred, auth.ProviderFunc(func(context.Context) (*auth.Credential, error) {
		return cred, err
	})
}

// restoreIdentity returns the stored profile of key, or the configured
// player when nothing is stored.
func restoreIdentity(ctx context.Context, repo repositories.Repository, key string, player config.PlayerConfig, logger *log.Logger) session.Identity {
	identity := session.Identity{
		Name:  player.Name,
		Color: gametypes.RGB{R: player.ColorR, G: player.ColorG, B: player.ColorB},
	}
	if repo == nil {
		return identity
	}

	profile, err := repo.LoadProfile(ctx, key)
	if err != nil {
		if !repositories.IsNotFound(err) {
			logger.Error("Failed to load profile %s: %v", key, err)
		}
		return identity
	}
	logger.Info("Restored profile %s (%s)", key, profile.Name)
	return session.IdentityFromProfile(profile)
}

func archivedMessage(m chat.Message) *models.ChatMessage {
	return &models.ChatMessage{
		Channel:    m.Channel,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
	}
}

func run(ctx context.Context, cfg config.Config, stdin io.Reader) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	log.SetDefaultLogger(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	repo, err := newRepository(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %v", err)
	}
	if repo != nil {
		defer repo.Close(context.Background())
	}

	cred, provider := acquireCredential(ctx, newCredentialProvider(cfg.Auth))
	key := session.Identity{AccountID: cred.AccountID()}.ProfileKey()
	identity := restoreIdentity(ctx, repo, key, cfg.Player, logger)

	transport := network.NewWSClient(network.Options{
		URL:               cfg.Server.URL,
		Compress:          cfg.Server.Compress,
		ReconnectMinDelay: cfg.Server.ReconnectMinDelay,
		ReconnectMaxDelay: cfg.Server.ReconnectMaxDelay,
		PingInterval:      cfg.Server.PingInterval,
		Logger:            logger,
	})
	s, err := session.New(session.Options{
		Transport: transport,
		Logger:    logger,
		QueueSize: cfg.Server.QueueSize,
	})
	if err != nil {
		return err
	}

	archive := make(chan *models.ChatMessage, archiveBuffer)
	subscribe(s, logger, archive, repo != nil)

	if err := s.Connect(ctx, identity, provider); err != nil {
		if session.IsAuthError(err) {
			logger.Warn("%v", err)
		} else {
			return err
		}
	}
	logger.Info("Connected to %s as %s", cfg.Server.URL, identity.Name)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Run(ctx); err != nil {
			logger.Error("Dispatcher stopped: %v", err)
			cancel()
		}
	}()

	if repo != nil {
		worker := workers.NewSaveProfileWorker(workers.NewSaveProfileWorkerOptions{
			Repository:      repo,
			SaveMessageChan: archive,
			Snapshot: func() *models.Profile {
				id := s.Identity()
				if id.Name == "" {
					return nil
				}
				return id.Profile()
			},
			Interval: cfg.Storage.SaveInterval,
			Logger:   logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Start(ctx)
		}()
	}

	var apiServer *api.APIServer
	if cfg.API.Enabled {
		apiServer = api.NewAPIServer(api.NewAPIServerOptions{
			Addr:       cfg.API.Addr,
			Status:     s,
			Repository: repo,
			Logger:     logger,
		})
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("API server error: %v", err)
			}
		}()
	}

	// closed input keeps the client running until /quit or a signal
	commands := &Commands{session: s, logger: logger, ping: transport.Ping}
	go func() {
		err := commands.ReadLoop(ctx, stdin)
		switch {
		case errors.Is(err, errQuit):
			cancel()
		case err != nil:
			logger.Error("Failed to read input, commands disabled: %v", err)
		default:
			logger.Debug("Input closed, running until interrupted")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop API server: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		logger.Error("Failed to close session: %v", err)
	}
	wg.Wait()
	return nil
}

// subscribe logs session activity and feeds chat messages to the archive.
func subscribe(s *session.Session, logger *log.Logger, archive chan<- *models.ChatMessage, archiving bool) {
	s.OnConnectivity(func(connected bool) {
		if connected {
			logger.Info("Connected")
		} else {
			logger.Warn("Connection lost, reconnecting")
		}
	})
	s.OnSetupRequired(func(identity session.Identity) {
		logger.Info("No stored name for this account, set one with /name <name>")
	})
	s.OnStats(func(stats gametypes.Stats) {
		logger.Debug("Stats: fish=%d monsters=%d money=%d", stats.FishCount, stats.MonsterKills, stats.Money)
	})
	s.OnLeaderboard(func(leaderboard messages.Leaderboard) {
		logger.Debug("Leaderboard updated (%d categories)", len(leaderboard))
	})
	s.Presence().OnChange(func(c presence.Change) {
		switch c.Kind {
		case presence.ChangeAdded:
			logger.Info("%s joined (%d online)", c.Participant.Name, s.OnlineCount())
		case presence.ChangeRemoved:
			logger.Info("%s left (%d online)", c.Participant.Name, s.OnlineCount())
		}
	})
	s.Chat().OnMessage(func(m chat.Message) {
		logger.Info("[%s] %s: %s", m.Channel, m.SenderName, m.Content)
		if !archiving {
			return
		}
		select {
		case archive <- archivedMessage(m):
		default:
			logger.Warn("Chat archive is full, dropping message")
		}
	})
	s.Chat().OnHistoryReplaced(func(history []chat.Message) {
		logger.Info("Loaded %d chat messages", len(history))
	})
}
