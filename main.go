package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/john/chatvoice/internal/config"
	"github.com/john/chatvoice/internal/kick"
	"github.com/john/chatvoice/internal/overlay"
	"github.com/john/chatvoice/internal/pipeline"
	"github.com/john/chatvoice/internal/server"
	"github.com/john/chatvoice/internal/speech"
)

func main() {
	log.Println("Chatvoice starting...")

	// Get config path from environment variable or use default
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded successfully")

	if cfg.Kick.Enabled {
		log.Printf("Reading Kick channel: %s", cfg.Kick.Channel)
	}
	if cfg.Twitch.Enabled {
		log.Printf("Reading Twitch channel: %s", cfg.Twitch.Channel)
	}

	// Setup context and signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var engine speech.Engine = speech.MissingEngine{}
	if detected, err := speech.DetectEngine(cfg.Speech.LocalCommand); err != nil {
		log.Printf("WARNING: %v. Local speech is unavailable.", err)
	} else {
		engine = detected
	}
	local := speech.NewLocal(engine)
	remote := speech.NewRemote(
		cfg.Speech.Remote.BaseURL,
		cfg.Speech.Remote.APIKey,
		cfg.Speech.Remote.AudioFormat,
		speech.NewOtoPlayer(),
	)

	session, err := pipeline.New(sessionOptions(cfg, local, remote))
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	seedRules(session, cfg)

	store, err := overlayStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create overlay store: %v", err)
	}
	overlays := overlay.NewManager(ctx, overlay.ManagerOptions{
		History:            cfg.Overlay.MaxMessages,
		KickAPIBase:        cfg.Kick.APIBase,
		KickWebSocketURL:   cfg.Kick.WebSocketURL,
		TwitchWebSocketURL: cfg.Twitch.WebSocketURL,
	})

	httpServer := server.New(cfg.HTTP.Address, server.Deps{
		Session:  session,
		Overlays: overlays,
		Store:    store,
		Kick:     kick.NewResolver(cfg.Kick.APIBase, nil),
	})

	// Start all components
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := local.WaitForVoices(ctx); err != nil && err != context.Canceled && !errors.Is(err, speech.ErrNoEngine) {
			log.Printf("Local voice loading error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Session error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Start(); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Println("All components started successfully")

	// Wait for shutdown signal
	go func() {
		<-sigChan
		log.Println("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down HTTP server: %v", err)
		}

		// Cancel main context to stop the session and overlay instances
		cancel()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.Println("All components stopped gracefully")
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
		}

		os.Exit(0)
	}()

	wg.Wait()
	log.Println("Chatvoice stopped")
}

func sessionOptions(cfg *config.Config, local *speech.Local, remote *speech.Remote) pipeline.Options {
	p := cfg.Playback
	return pipeline.Options{
		Settings: pipeline.Settings{
			Playing:       *p.Playing,
			AudioEnabled:  p.AudioEnabled,
			ReadUsername:  *p.ReadUsername,
			Engine:        pipeline.Engine(p.Engine),
			Volume:        p.Volume,
			Rate:          p.Rate,
			Pitch:         p.Pitch,
			KickVoice:     p.Voices.Kick,
			TwitchVoice:   p.Voices.Twitch,
			TimerVoice:    p.Voices.Timer,
			RemoteVoiceID: cfg.Speech.Remote.VoiceID,
		},
		Kick: pipeline.KickSettings{
			Enabled:    cfg.Kick.Enabled,
			Channel:    cfg.Kick.Channel,
			ChatroomID: cfg.Kick.ChatroomID,
		},
		Twitch: pipeline.TwitchSettings{
			Enabled: cfg.Twitch.Enabled,
			Channel: cfg.Twitch.Channel,
			Token:   cfg.Twitch.OAuth,
		},
		Local:              local,
		Remote:             remote,
		BufferSize:         cfg.Pipeline.BufferSize,
		SchedulerTick:      time.Duration(p.TickMillis) * time.Millisecond,
		TimerTick:          time.Duration(cfg.Pipeline.TimerTickMillis) * time.Millisecond,
		KickAPIBase:        cfg.Kick.APIBase,
		KickWebSocketURL:   cfg.Kick.WebSocketURL,
		TwitchWebSocketURL: cfg.Twitch.WebSocketURL,
	}
}

// seedRules loads the configured keywords and timers through the same
// validation the API applies
func seedRules(session *pipeline.Session, cfg *config.Config) {
	for _, kw := range cfg.Filter.Keywords {
		if _, err := session.Filter().Add(kw.Text, kw.CaseSensitive); err != nil {
			log.Printf("Skipping keyword %q: %v", kw.Text, err)
		}
	}
	session.Filter().SetEnabled(cfg.Filter.Enabled)

	for _, tc := range cfg.Timers {
		rule, err := session.Timers().Add(tc.Message, tc.IntervalSeconds)
		if err != nil {
			log.Printf("Skipping timer %q: %v", tc.Message, err)
			continue
		}
		if !*tc.Enabled {
			session.Timers().SetEnabled(rule.ID, false)
		}
	}
}

func overlayStore(ctx context.Context, cfg *config.Config) (overlay.Store, error) {
	if cfg.Overlay.Store != "s3" {
		log.Println("Overlay configs are kept in memory")
		return overlay.NewMemoryStore(), nil
	}
	s3 := cfg.Overlay.S3
	if s3.RoleARN == "" {
		log.Println("WARNING: Using static AWS credentials (deprecated). Migrate to OIDC for better security.")
	}
	store, err := overlay.NewS3Store(ctx, overlay.S3Options{
		Bucket:          s3.Bucket,
		Region:          s3.Region,
		Prefix:          s3.Prefix,
		RoleARN:         s3.RoleARN,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
		Endpoint:        s3.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Overlay configs are stored in s3://%s/%s", s3.Bucket, s3.Prefix)
	return store, nil
}
