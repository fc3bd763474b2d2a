package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/cue/internal/client"
	"github.com/kozaktomas/cue/internal/config"
	"github.com/kozaktomas/cue/internal/overlay"
	"github.com/kozaktomas/cue/internal/passive"
	"github.com/kozaktomas/cue/internal/presence"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run the patient session daemon",
	Long: `Run the patient-side session daemon.

The daemon serves a websocket on the listen address. The overlay page sends
camera frames and microphone chunks over it and receives presence states,
the recognized person's display fields and audio cues. Recognition,
display context and memories are fetched from the Cue server.

Example:
  cue session --server http://192.168.1.10:8000 --lang hi`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(sessionCmd)

	sessionCmd.Flags().String("server", "", "Cue server URL (overrides CUE_SERVER_URL)")
	sessionCmd.Flags().String("listen", "", "Overlay listen address (overrides CUE_LISTEN_ADDR)")
	sessionCmd.Flags().String("lang", "", "Display language code (overrides CUE_LANGUAGE)")
	sessionCmd.Flags().Bool("no-record", false, "Disable passive visit recording")
	sessionCmd.Flags().Bool("no-cue", false, "Disable spoken cues")
	sessionCmd.Flags().Duration("cue-delay", 0, "Delay before the spoken cue (overrides CUE_DELAY_MS)")
}

func applySessionFlags(cmd *cobra.Command, cfg *config.SessionConfig) {
	if server := mustGetString(cmd, "server"); server != "" {
		cfg.ServerURL = server
	}
	if listen := mustGetString(cmd, "listen"); listen != "" {
		cfg.ListenAddr = listen
	}
	if lang := mustGetString(cmd, "lang"); lang != "" {
		cfg.Language = lang
	}
	if mustGetBool(cmd, "no-record") {
		cfg.RecordingEnabled = false
	}
	if mustGetBool(cmd, "no-cue") {
		cfg.CueEnabled = false
	}
	if delay := mustGetDuration(cmd, "cue-delay"); delay > 0 {
		cfg.CueDelay = delay
	}
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	sc := cfg.Session
	applySessionFlags(cmd, &sc)
	if !cfg.Relations.IsSupportedLanguage(sc.Language) {
		fmt.Printf("Warning: language %q has no relation dictionary, falling back to English\n", sc.Language)
	}

	api, err := client.New(sc.ServerURL, client.WithCaregiverToken(cfg.Server.CaregiverToken))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if health, err := api.Health(ctx); err != nil {
		fmt.Printf("Warning: server %s is not reachable yet: %v\n", sc.ServerURL, err)
	} else {
		fmt.Printf("Connected to %s (%s backend, %s)\n", sc.ServerURL, health.Backend, health.Status)
	}

	session := presence.NewSession(api, presence.SessionConfig{
		Controller: presence.Config{
			StableFrames: sc.StableFrames,
			CaptureCount: sc.CaptureCount,
			LostFrames:   sc.LostFrames,
			Smoothing:    sc.Smoothing,
		},
		CaptureInterval: sc.CaptureInterval,
		ResolveTimeout:  sc.ResolveTimeout,
	})
	bridge := overlay.NewBridge(session, api, sc.Language)
	orchestrator := passive.New(passive.Config{
		RecordingEnabled: sc.RecordingEnabled,
		CueEnabled:       sc.CueEnabled,
		CueDelay:         sc.CueDelay,
	}, bridge.Recorder(), api, bridge.Player(), api)
	events := session.Subscribe(false)

	if err := session.Start(ctx); err != nil {
		return err
	}
	go bridge.Run(ctx)
	orchestratorDone := make(chan struct{})
	go func() {
		defer close(orchestratorDone)
		orchestrator.Run(ctx, events)
	}()

	httpServer := &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           bridge.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
		session.Stop()

		// Let the orchestrator upload the current visit before the overlay goes away.
		select {
		case <-orchestratorDone:
		case <-time.After(30 * time.Second):
			fmt.Println("Warning: pending memory upload did not finish")
		}
		orchestrator.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Overlay websocket on ws://%s/ws (language %s)\n", sc.ListenAddr, sc.Language)
	fmt.Println("Press Ctrl+C to stop")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("overlay server: %w", err)
	}
	<-session.Done()
	return nil
}
