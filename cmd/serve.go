package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/cue/internal/ai"
	"github.com/kozaktomas/cue/internal/config"
	"github.com/kozaktomas/cue/internal/embedding"
	"github.com/kozaktomas/cue/internal/people"
	"github.com/kozaktomas/cue/internal/recognition"
	"github.com/kozaktomas/cue/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recognition server",
	Long: `Start the Cue server.
The server resolves faces against the enrolled people, serves display
context and audio cues to the patient session, stores visit memories and
exposes the caregiver panel API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("backend", "", "Storage backend: postgres or local (overrides DATABASE_BACKEND)")
}

// applyServeFlags lets command line flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
	if backend := mustGetString(cmd, "backend"); backend != "" {
		cfg.Database.Backend = backend
	}
}

// newPeopleService wires the lifecycle service to the stores and AI providers.
func newPeopleService(ctx context.Context, cfg *config.Config, s *stores, extractor embedding.Extractor) (*people.Service, error) {
	deps := people.Deps{
		Faces:     s.faces,
		Persons:   s.persons,
		Memories:  s.memories,
		Extractor: extractor,
		Relations: &cfg.Relations,
	}

	chat, err := newChatProvider(ctx, cfg)
	if err != nil {
		fmt.Printf("Warning: text generation disabled: %v\n", err)
	} else {
		deps.Text = ai.NewAssistant(chat)
		fmt.Printf("Text generation: %s (%s)\n", cfg.LLM.Provider, chat.Name())
	}
	if deps.Speech = newSpeechProvider(cfg, chat); deps.Speech == nil {
		fmt.Printf("Warning: speech disabled, set OPENAI_TOKEN for transcription and cues\n")
	}

	if cfg.Server.ThumbnailDir != "" {
		thumbs, err := people.NewThumbnailStore(cfg.Server.ThumbnailDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open thumbnail directory: %w", err)
		}
		deps.Thumbnails = thumbs
	}
	return people.NewService(deps)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyServeFlags(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	extractor := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
	svc, err := newPeopleService(ctx, cfg, s, extractor)
	if err != nil {
		return fmt.Errorf("failed to create people service: %w", err)
	}
	defer svc.Close()

	resolver := recognition.NewResolver(extractor, s.faces, s.persons, svc, recognition.Options{
		Threshold:        cfg.Recognition.Threshold,
		SearchLimit:      cfg.Recognition.SearchLimit,
		RequireAgreement: cfg.Recognition.RequireAgreement,
	})
	if cfg.Server.CaregiverToken == "" {
		fmt.Println("Warning: CAREGIVER_TOKEN is not set, caregiver routes are open")
	}

	server := web.NewServer(cfg, svc, resolver)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveFaceIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Cue server on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
