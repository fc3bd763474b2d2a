package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/cue/internal/client"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image> [image...]",
	Short: "Resolve photos the way a capture batch is resolved",
	Long: `Send up to 10 photos to the server as one capture batch and print the
recognition result. Unknown faces create a pending person, exactly as a
live session would.`,
	Args: cobra.RangeArgs(1, 10),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	recognizeCmd.Flags().String("server", "", "Cue server URL (overrides CUE_SERVER_URL)")
	recognizeCmd.Flags().String("lang", "en", "Language of the display fields")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	frames := make([][]byte, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		frames = append(frames, data)
	}

	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	result, err := api.Resolve(ctx, frames)
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	fmt.Printf("Message:    %s\n", result.Message)
	if !result.Recognized {
		return nil
	}
	fmt.Printf("Person:     %s (%s)\n", result.PersonID, result.Status)
	fmt.Printf("Confidence: %.3f\n", result.Confidence)

	hud, err := api.HUD(ctx, result.PersonID, result.Status, mustGetString(cmd, "lang"))
	if err != nil {
		if client.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to fetch display context: %w", err)
	}
	if hud.Name != "" {
		fmt.Printf("Name:       %s\n", hud.Name)
		fmt.Printf("Relation:   %s\n", hud.Relation)
		if hud.Routine != "" {
			fmt.Printf("Routine:    %s\n", hud.Routine)
		}
	}
	return nil
}
