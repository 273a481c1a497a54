package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rceutils-bot/internal/api"
	"rceutils-bot/internal/config"
	"rceutils-bot/internal/handler"
	"rceutils-bot/internal/notifier"
	"rceutils-bot/internal/repository"
	"rceutils-bot/internal/service"
	"rceutils-bot/pkg/discord"
	"rceutils-bot/pkg/telegram"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.Info("Initializing config...")
	cfg := config.GetBotConfig()
	logrus.Info("Config initialized...")

	logger := logrus.StandardLogger()
	logger.SetLevel(cfg.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	// Инициализируем SQLite базу данных
	db, err := repository.OpenDatabase(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatal("Failed to connect to database:", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		logrus.Fatal("Failed to get database instance:", err)
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create id generator")
	}

	leaveRepo, err := repository.NewGormLeaveRecordRepository(db, node)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create leave repository")
	}

	staffRepo, err := repository.NewGormStaffRepository(db)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create staff repository")
	}

	leaveService := service.NewLeaveService(leaveRepo, service.WithLogger(logger))
	staffService := service.NewStaffService(staffRepo)

	// Инициализируем администратора из конфига
	if err := staffService.InitializeAdmin(context.Background(), cfg.BaseAdminUserID); err != nil {
		logrus.Infof("Warning: Failed to initialize admin: %v", err)
	} else if cfg.BaseAdminUserID != "" {
		logrus.Infof("Admin initialized with Discord ID: %s", cfg.BaseAdminUserID)
	}

	// Создаем клиент Discord
	client, err := discord.NewClient(cfg.DiscordToken, cfg.GuildIDs)
	if err != nil {
		logrus.Fatal("Failed to create Discord client:", err)
	}

	var mirrors []notifier.Mirror
	if cfg.TelegramToken != "" {
		tg, err := telegram.NewClient(cfg.TelegramToken, cfg.TelegramAlertChatID)
		if err != nil {
			logrus.WithError(err).Warn("Telegram alerts disabled")
		} else {
			mirrors = append(mirrors, notifier.NewTelegram(tg))
		}
	}
	notify := notifier.NewFanout(notifier.NewDiscord(client), logger, mirrors...)

	roleSync := service.NewRoleSync(client, cfg.LoaRoleID, logger)

	botHandler := handler.NewHandler(leaveService, staffService, roleSync, notify, client, cfg, logger)
	botHandler.Register(client.Session)

	if err := client.Open(); err != nil {
		logrus.Fatal("Failed to open Discord session:", err)
	}

	logrus.Infof("Authorized on account %s", client.Session.State.User.Username)

	if err := botHandler.RegisterCommands(client.Session, client.BotUserID(), cfg.GuildIDs); err != nil {
		logrus.WithError(err).Fatal("Failed to register slash commands")
	}

	reconciler := service.NewReconciler(leaveService, roleSync, notify, service.ReconcilerConfig{
		Interval:     cfg.ReconcileInterval,
		LogGuildID:   cfg.LogGuildID,
		LogChannelID: cfg.LogChannelID,
	}, logger)
	reconciler.Start()

	var server *http.Server
	if cfg.HTTPAddr != "" {
		router := api.NewRouter(api.NewHandler(leaveService, reconciler, logger), cfg.AdminAPISecret)
		server = api.NewServer(cfg.HTTPAddr, router)

		go func() {
			logrus.Infof("Admin API listening on %s", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Error("Admin API stopped")
			}
		}()
	}

	// Обработка сигналов для graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	logrus.Info("Bot started. Press Ctrl+C to stop.")
	<-stop

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			logrus.Infof("Error stopping admin API: %v", err)
		}
		cancel()
	}

	reconciler.Stop()

	if err := client.Close(); err != nil {
		logrus.Infof("Error closing Discord session: %v", err)
	}

	// Закрываем соединение с БД
	if err := sqlDB.Close(); err != nil {
		logrus.Infof("Error closing database: %v", err)
	}

	logrus.Info("Bot stopped gracefully")
}
