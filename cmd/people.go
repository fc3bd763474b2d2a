package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/cue/internal/ai"
	"github.com/kozaktomas/cue/internal/client"
	"github.com/kozaktomas/cue/internal/config"
	"github.com/kozaktomas/cue/internal/people"
)

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "Manage enrolled people through the caregiver API",
}

var peopleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List confirmed people",
	Args:  cobra.NoArgs,
	RunE:  runPeopleList,
}

var peoplePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List unknown faces awaiting confirmation",
	Args:  cobra.NoArgs,
	RunE:  runPeoplePending,
}

var peopleEnrollCmd = &cobra.Command{
	Use:     "enroll <image> <name> <relation>",
	Short:   "Enroll a person from a photo",
	Example: `  cue people enroll asha.jpg Asha daughter --note "Visits on Sundays"`,
	Args:    cobra.ExactArgs(3),
	RunE:    runPeopleEnroll,
}

var peopleConfirmCmd = &cobra.Command{
	Use:   "confirm <person-id> <name> <relation>",
	Short: "Confirm a pending person",
	Args:  cobra.ExactArgs(3),
	RunE:  runPeopleConfirm,
}

var peopleUpdateCmd = &cobra.Command{
	Use:   "update <person-id>",
	Short: "Change a confirmed person",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeopleUpdate,
}

var peopleDeleteCmd = &cobra.Command{
	Use:   "delete <person-id>",
	Short: "Delete a person with their faces and memories",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeopleDelete,
}

var peopleFaceCmd = &cobra.Command{
	Use:   "face <person-id> <output-file>",
	Short: "Download a person's face thumbnail",
	Args:  cobra.ExactArgs(2),
	RunE:  runPeopleFace,
}

var peopleImportCmd = &cobra.Command{
	Use:   "import <folder>",
	Short: "Enroll every photo of a folder",
	Long: `Enroll people from a folder laid out as <relation>/<name>.<ext>.

People whose name is already enrolled are skipped.

Example:
  family/
    daughter/Asha.jpg
    son/Ravi.png
    neighbour/Mrs Iyer.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runPeopleImport,
}

func init() {
	rootCmd.AddCommand(peopleCmd)
	peopleCmd.PersistentFlags().String("server", "", "Cue server URL (overrides CUE_SERVER_URL)")

	peopleCmd.AddCommand(peopleListCmd, peoplePendingCmd, peopleEnrollCmd, peopleConfirmCmd,
		peopleUpdateCmd, peopleDeleteCmd, peopleFaceCmd, peopleImportCmd)

	peopleEnrollCmd.Flags().String("note", "", "Contextual note shown to the patient")
	peopleConfirmCmd.Flags().String("note", "", "Contextual note shown to the patient")

	peopleUpdateCmd.Flags().String("name", "", "New name")
	peopleUpdateCmd.Flags().String("relation", "", "New relation")
	peopleUpdateCmd.Flags().String("note", "", "New contextual note")
	peopleUpdateCmd.Flags().String("image", "", "Replace the face with this photo")
}

// newAPIClient creates a caregiver client for the configured server.
func newAPIClient(cmd *cobra.Command) (*client.Client, error) {
	cfg := config.Load()
	serverURL := cfg.Session.ServerURL
	if flag := cmd.Flags().Lookup("server"); flag != nil && flag.Value.String() != "" {
		serverURL = flag.Value.String()
	}
	return client.New(serverURL, client.WithCaregiverToken(cfg.Server.CaregiverToken))
}

// isImageFile checks if a file has a supported image extension
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

func runPeopleList(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	confirmed, err := api.Confirmed(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list people: %w", err)
	}
	if len(confirmed) == 0 {
		fmt.Println("No confirmed people.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRELATION\tFAMILIARITY\tNOTE")
	for _, p := range confirmed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%s\n", p.PersonID, p.Name, p.Relation, p.FamiliarityScore, p.ContextualNote)
	}
	return w.Flush()
}

func runPeoplePending(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	pending, err := api.Pending(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list pending people: %w", err)
	}
	if len(pending) == 0 {
		fmt.Println("No pending faces.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVISITS\tLAST SEEN\tLAST MEMORY")
	for _, p := range pending {
		lastSeen := "-"
		if p.LastSeen != nil {
			lastSeen = p.LastSeen.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.PersonID, p.InteractionCount, lastSeen, p.LastMemorySummary)
	}
	return w.Flush()
}

func runPeopleEnroll(cmd *cobra.Command, args []string) error {
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	width, height, err := ai.ImageSize(image)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Printf("Uploading %s (%dx%d)\n", filepath.Base(args[0]), width, height)

	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	resp, err := api.Enroll(cmd.Context(), args[1], args[2], mustGetString(cmd, "note"), image)
	if err != nil {
		return fmt.Errorf("failed to enroll: %w", err)
	}
	fmt.Printf("%s (id %s)\n", resp.Message, resp.PersonID)
	return nil
}

func runPeopleConfirm(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	resp, err := api.Confirm(cmd.Context(), client.ConfirmRequest{
		PersonID:       args[0],
		Name:           args[1],
		Relation:       args[2],
		ContextualNote: mustGetString(cmd, "note"),
	})
	if err != nil {
		return fmt.Errorf("failed to confirm: %w", err)
	}
	fmt.Println(resp.Message)
	return nil
}

func runPeopleUpdate(cmd *cobra.Command, args []string) error {
	var req client.UpdateRequest
	for flag, field := range map[string]**string{"name": &req.Name, "relation": &req.Relation, "note": &req.ContextualNote} {
		if cmd.Flags().Changed(flag) {
			value := mustGetString(cmd, flag)
			*field = &value
		}
	}
	if path := mustGetString(cmd, "image"); path != "" {
		image, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		req.ImageBase64 = base64.StdEncoding.EncodeToString(image)
	}
	if req == (client.UpdateRequest{}) {
		return errors.New("nothing to update: pass --name, --relation, --note or --image")
	}

	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	resp, err := api.Update(cmd.Context(), args[0], req)
	if err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}
	fmt.Printf("Updated %s (%s)\n", resp.Name, resp.Relation)
	return nil
}

func runPeopleDelete(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	if _, err := api.Delete(cmd.Context(), args[0]); err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("person %s not found", args[0])
		}
		return fmt.Errorf("failed to delete: %w", err)
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runPeopleFace(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	data, contentType, err := api.FaceImage(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to download face: %w", err)
	}
	if err := os.WriteFile(args[1], data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[1], err)
	}
	fmt.Printf("Saved %s (%s, %d bytes)\n", args[1], contentType, len(data))
	return nil
}

// importEntry is one photo found by people import.
type importEntry struct {
	path     string
	name     string
	relation string
}

// collectImport walks <folder>/<relation>/<name>.<ext>.
func collectImport(folder string) ([]importEntry, error) {
	relations, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("cannot read folder %s: %w", folder, err)
	}
	var entries []importEntry
	for _, rel := range relations {
		if !rel.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(folder, rel.Name()))
		if err != nil {
			return nil, fmt.Errorf("cannot read folder %s: %w", rel.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !isImageFile(f.Name()) {
				continue
			}
			entries = append(entries, importEntry{
				path:     filepath.Join(folder, rel.Name(), f.Name()),
				name:     strings.TrimSuffix(f.Name(), filepath.Ext(f.Name())),
				relation: rel.Name(),
			})
		}
	}
	return entries, nil
}

// skipKnown drops entries whose name is already enrolled.
func skipKnown(entries []importEntry, confirmed []client.ConfirmedPerson) ([]importEntry, int) {
	known := make(map[string]bool, len(confirmed))
	for _, p := range confirmed {
		known[people.NormalizeName(p.Name)] = true
	}
	var out []importEntry
	for _, e := range entries {
		key := people.NormalizeName(e.name)
		if known[key] {
			continue
		}
		known[key] = true
		out = append(out, e)
	}
	return out, len(entries) - len(out)
}

func runPeopleImport(cmd *cobra.Command, args []string) error {
	entries, err := collectImport(args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No photos found. Expected <folder>/<relation>/<name>.jpg")
		return nil
	}

	api, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	confirmed, err := api.Confirmed(ctx)
	if err != nil {
		return fmt.Errorf("failed to list people: %w", err)
	}
	entries, skipped := skipKnown(entries, confirmed)
	if skipped > 0 {
		fmt.Printf("Skipping %d already enrolled name(s)\n", skipped)
	}
	if len(entries) == 0 {
		return nil
	}

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("people"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var failures []string
	for _, e := range entries {
		if err := importOne(ctx, api, e); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", e.path, err))
		}
		bar.Add(1)
	}
	fmt.Println()

	for _, f := range failures {
		fmt.Printf("Failed: %s\n", f)
	}
	fmt.Printf("Enrolled %d of %d\n", len(entries)-len(failures), len(entries))
	if len(failures) == len(entries) {
		return errors.New("no people were enrolled")
	}
	return nil
}

func importOne(ctx context.Context, api *client.Client, e importEntry) error {
	image, err := os.ReadFile(e.path)
	if err != nil {
		return err
	}
	_, err = api.Enroll(ctx, e.name, e.relation, "", image)
	return err
}
