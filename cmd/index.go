package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the server's face index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the in-memory face index from the face store",
	Args:  cobra.NoArgs,
	RunE:  runIndexRebuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexRebuildCmd.Flags().String("server", "", "Cue server URL (overrides CUE_SERVER_URL)")
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	resp, err := api.RebuildIndex(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	fmt.Printf("Face index rebuilt with %d faces in %dms\n", resp.FaceCount, resp.DurationMs)
	return nil
}
