package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"jobchat/internal/api"
	"jobchat/internal/auth"
	"jobchat/internal/chat"
	"jobchat/internal/commands"
	"jobchat/internal/config"
	"jobchat/internal/directory"
	"jobchat/internal/filestore"
	"jobchat/internal/http"
	"jobchat/internal/jobs"
	"jobchat/internal/notify"
	"jobchat/internal/profile"
	"jobchat/internal/storage"
	"jobchat/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, addUser string) error {
	cfg, err := config.Load(addUser != "")
	if err != nil {
		return err
	}

	if addUser != "" {
		return commands.AddUser(addUser, cfg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	authService, err := auth.NewAuthService(ctx, authConfig, bbStorage)
	if err != nil {
		return err
	}

	users := directory.New(bbStorage)
	chatService := chat.NewService(bbStorage, chat.Config{TypingIdle: cfg.TypingIdle})
	defer chatService.Close()

	relay := notify.NewRelay(ctx, chatService)
	pusher := notify.NewPusher(bbStorage, notify.PushConfig{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:         cfg.Push.Subject,
	})

	jobsClient := jobs.NewClient(ctx, jobs.Config{
		BaseURL:   cfg.Jobs.BaseURL,
		Country:   cfg.Jobs.Country,
		AppID:     cfg.Jobs.AppID,
		AppKey:    cfg.Jobs.AppKey,
		CallDelay: cfg.Jobs.CallDelay,
		CacheTTL:  cfg.Jobs.CacheTTL,
	})

	hub := ws.NewHub(ctx, chatService, relay, users)
	defer hub.Close()

	apiHandlers := api.New(api.Deps{
		Auth:      authService,
		Directory: users,
		Chat:      chatService,
		Profiles:  profile.NewService(bbStorage, files, users, cfg.BaseURL),
		Jobs:      jobsClient,
		SavedJobs: jobs.NewSavedJobs(bbStorage),
		Push:      bbStorage,
		BaseURL:   cfg.BaseURL,
	})

	adminServer := http.NewAdminServer(authService, cfg.AdminAddr)
	apiServer := http.NewAPIServer(apiHandlers, ws.NewServer(authService, hub), cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Web push for chat requests
	g.Go(func() error {
		return pusher.Run(gCtx)
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		// Live connections are hijacked and not tracked by Shutdown.
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	addUser := flag.String("add-user", "", "Email of the account to create (creates it with a random password and prints details)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-add-user email]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addUser); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
