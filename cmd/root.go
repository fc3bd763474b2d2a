package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cue",
	Short: "Face recognition memory aid for people living with dementia",
	Long: `Cue recognizes the people visiting a patient, shows who they are on an
overlay, whispers a short reminder and keeps a memory of each visit.

Run "cue serve" on the home server and "cue session" next to the camera.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
