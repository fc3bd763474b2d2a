package people

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/kozaktomas/cue/internal/ai"
	"github.com/kozaktomas/cue/internal/config"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/database/mock"
	"github.com/kozaktomas/cue/internal/embedding"
)

type fakeExtractor struct {
	embeddings map[string][]float32
}

func (f *fakeExtractor) ExtractEmbedding(ctx context.Context, img []byte) ([]float32, error) {
	if emb, ok := f.embeddings[string(img)]; ok {
		return emb, nil
	}
	return nil, embedding.ErrNoFaceFound
}

type fakeText struct {
	mu         sync.Mutex
	cue        string
	cueErr     error
	summary    *ai.MemorySummary
	summaryErr error
	condensed  string
	cueCalls   int
	lastCue    ai.CueRequest
}

func (f *fakeText) CueText(ctx context.Context, req ai.CueRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cueCalls++
	f.lastCue = req
	return f.cue, f.cueErr
}

func (f *fakeText) Summarize(ctx context.Context, transcript string) (*ai.MemorySummary, error) {
	return f.summary, f.summaryErr
}

func (f *fakeText) Condense(ctx context.Context, text string) (string, error) {
	if f.condensed == "" {
		return text, nil
	}
	return f.condensed, nil
}

func (f *fakeText) Translate(ctx context.Context, text, languageName string) (string, error) {
	return "[" + languageName + "] " + text, nil
}

type fakeSpeech struct {
	transcript string
	audio      []byte
	synthErr   error
}

func (f *fakeSpeech) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return f.transcript, nil
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.audio, f.synthErr
}

type fixture struct {
	svc      *Service
	faces    *mock.MockFaceStore
	persons  *mock.MockPersonStore
	memories *mock.MockMemoryStore
	text     *fakeText
	speech   *fakeSpeech
	extract  *fakeExtractor
	dir      string
}

func testRelations() *config.RelationsConfig {
	return &config.RelationsConfig{
		Languages: map[string]config.LanguageInfo{
			"en": {Name: "English"},
			"hi": {Name: "Hindi"},
		},
		Relations: map[string]map[string]string{
			"son": {"en": "Son", "hi": "बेटा"},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	thumbs, err := NewThumbnailStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		faces:    mock.NewMockFaceStore(),
		persons:  mock.NewMockPersonStore(),
		memories: mock.NewMockMemoryStore(),
		text:     &fakeText{cue: "This is Ravi, your son."},
		speech:   &fakeSpeech{transcript: "we talked about the garden", audio: []byte("mp3")},
		extract:  &fakeExtractor{embeddings: map[string][]float32{}},
		dir:      dir,
	}
	svc, err := NewService(Deps{
		Faces:      f.faces,
		Persons:    f.persons,
		Memories:   f.memories,
		Extractor:  f.extract,
		Text:       f.text,
		Speech:     f.speech,
		Thumbnails: thumbs,
		Relations:  testRelations(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Close)
	f.svc = svc
	return f
}

// face returns a decodable image whose embedding the fake extractor knows.
func (f *fixture) face(t *testing.T, shade uint8, emb []float32) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	f.extract.embeddings[buf.String()] = emb
	return buf.Bytes()
}

func (f *fixture) enroll(t *testing.T) *PublicPerson {
	t.Helper()
	p, err := f.svc.Enroll(context.Background(), EnrollRequest{
		Image:    f.face(t, 10, []float32{1, 0, 0}),
		Name:     "  Ravi ",
		Relation: "son",
		Note:     "Visits every Sunday",
	})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	return p
}

func (f *fixture) stub(t *testing.T) *database.Person {
	t.Helper()
	p, err := f.svc.CreateTemporary(context.Background(), []float32{0, 1, 0}, f.face(t, 200, []float32{0, 1, 0}))
	if err != nil {
		t.Fatalf("CreateTemporary failed: %v", err)
	}
	return p
}

func TestEnroll(t *testing.T) {
	f := newFixture(t)
	p := f.enroll(t)

	if p.Name != "Ravi" || p.Relation != "son" || p.ContextualNote != "Visits every Sunday" {
		t.Errorf("unexpected view %+v", p)
	}
	faces := f.faces.Faces(p.ID)
	if len(faces) != 1 || faces[0].Status != database.PersonStatusConfirmed {
		t.Errorf("expected one confirmed face, got %+v", faces)
	}
	stored, err := f.persons.GetPerson(context.Background(), p.ID)
	if err != nil || !stored.IsConfirmed() || stored.ConfirmedAt == nil {
		t.Errorf("enrolled person must be confirmed, got %+v, %v", stored, err)
	}
	if _, err := f.svc.Thumbnails().Load(p.ID); err != nil {
		t.Errorf("thumbnail not stored: %v", err)
	}
}

func TestEnroll_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, EnrollRequest{Image: []byte("x"), Name: "", Relation: "son"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	_, err = f.svc.Enroll(ctx, EnrollRequest{Image: []byte("landscape"), Name: "Ravi", Relation: "son"})
	if !errors.Is(err, embedding.ErrNoFaceFound) {
		t.Errorf("expected ErrNoFaceFound, got %v", err)
	}
	if f.persons.Len() != 0 {
		t.Errorf("rejected enrollment must not write, have %d persons", f.persons.Len())
	}
}

func TestEnroll_FaceStoreFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.faces.SaveFaceError = errors.New("vector store down")

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{
		Image: f.face(t, 10, []float32{1, 0, 0}), Name: "Ravi", Relation: "son",
	})
	if err == nil || errors.Is(err, ErrInconsistentStores) {
		t.Fatalf("expected plain failure after rollback, got %v", err)
	}
	if f.persons.Len() != 0 {
		t.Errorf("person record should have been rolled back")
	}
}

func TestEnroll_RollbackFailureIsInconsistent(t *testing.T) {
	f := newFixture(t)
	f.faces.SaveFaceError = errors.New("vector store down")
	f.persons.DeleteError = errors.New("metadata store down")

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{
		Image: f.face(t, 10, []float32{1, 0, 0}), Name: "Ravi", Relation: "son",
	})
	if !errors.Is(err, ErrInconsistentStores) {
		t.Errorf("expected ErrInconsistentStores, got %v", err)
	}
}

func TestTemporaryPersonIsNeverDisclosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stub(t)

	if p.Status != database.PersonStatusTemporary || p.Name != "" {
		t.Fatalf("stub must be temporary and anonymous, got %+v", p)
	}
	if faces := f.faces.Faces(p.ID); len(faces) != 1 || faces[0].Status != database.PersonStatusTemporary {
		t.Errorf("expected one temporary face, got %+v", faces)
	}

	if _, err := f.svc.Context(ctx, p.ID); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("Context for a temporary person = %v, want ErrNotConfirmed", err)
	}
	hud, err := f.svc.HUDContext(ctx, p.ID, "en")
	if err != nil || *hud != (HUD{}) {
		t.Errorf("HUD for a temporary person must be empty, got %+v, %v", hud, err)
	}
	cue := f.svc.Cue(ctx, p.ID)
	if cue.Audio != nil || cue.Text != "" || cue.Reason != CueReasonPersonNotFound {
		t.Errorf("cue for a temporary person must be silent, got %+v", cue)
	}
	if f.text.cueCalls != 0 {
		t.Error("no cue text may be generated for a temporary person")
	}
	if _, err := f.svc.Memories(ctx, p.ID, 5); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("memories of a temporary person must not be listed, got %v", err)
	}

	pending, err := f.svc.ListPending(ctx)
	if err != nil || len(pending) != 1 || pending[0].ID != p.ID {
		t.Fatalf("expected the stub to be pending, got %+v, %v", pending, err)
	}
	confirmed, _ := f.svc.ListConfirmed(ctx)
	if len(confirmed) != 0 {
		t.Errorf("temporary person listed as confirmed: %+v", confirmed)
	}
}

func TestConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stub(t)

	// Prime the negative path before confirming.
	if _, err := f.svc.Context(ctx, p.ID); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("unexpected error %v", err)
	}
	if hud, _ := f.svc.HUDContext(ctx, p.ID, "en"); hud.Name != "" {
		t.Fatalf("unexpected HUD %+v", hud)
	}
	f.svc.cache.Wait()

	view, err := f.svc.Confirm(ctx, p.ID, ConfirmRequest{Name: "Asha", Relation: "Daughter"})
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if view.Name != "Asha" || view.Relation != "Daughter" {
		t.Errorf("unexpected view %+v", view)
	}

	got, err := f.svc.Context(ctx, p.ID)
	if err != nil || got.Name != "Asha" || got.Relation != "Daughter" {
		t.Errorf("context right after confirm = %+v, %v", got, err)
	}
	hud, err := f.svc.HUDContext(ctx, p.ID, "en")
	if err != nil || hud.Name != "Asha" {
		t.Errorf("HUD right after confirm = %+v, %v", hud, err)
	}
	for _, face := range f.faces.Faces(p.ID) {
		if face.Status != database.PersonStatusConfirmed {
			t.Errorf("face status not updated: %+v", face)
		}
	}

	if _, err := f.svc.Confirm(ctx, p.ID, ConfirmRequest{Name: "Other", Relation: "friend"}); !errors.Is(err, database.ErrAlreadyConfirmed) {
		t.Errorf("second confirm = %v, want ErrAlreadyConfirmed", err)
	}
	if _, err := f.svc.Confirm(ctx, "missing", ConfirmRequest{Name: "A", Relation: "b"}); !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("confirm of unknown person = %v, want ErrPersonNotFound", err)
	}
	if _, err := f.svc.Confirm(ctx, p.ID, ConfirmRequest{Name: "Asha"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("confirm without relation = %v, want ErrInvalidInput", err)
	}
}

func TestConfirm_FaceStoreFailure(t *testing.T) {
	f := newFixture(t)
	p := f.stub(t)
	f.faces.UpdateStatusError = errors.New("vector store down")

	_, err := f.svc.Confirm(context.Background(), p.ID, ConfirmRequest{Name: "Asha", Relation: "daughter"})
	if !errors.Is(err, ErrInconsistentStores) {
		t.Errorf("expected ErrInconsistentStores, got %v", err)
	}
}

func TestConfirm_RetryRepairsFaceStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stub(t)
	req := ConfirmRequest{Name: "Asha", Relation: "daughter"}

	f.faces.UpdateStatusError = errors.New("vector store down")
	if _, err := f.svc.Confirm(ctx, p.ID, req); !errors.Is(err, ErrInconsistentStores) {
		t.Fatalf("expected ErrInconsistentStores, got %v", err)
	}
	if faces := f.faces.Faces(p.ID); faces[0].Status != database.PersonStatusTemporary {
		t.Fatalf("face should still be temporary, got %s", faces[0].Status)
	}

	f.faces.UpdateStatusError = nil
	if _, err := f.svc.Confirm(ctx, p.ID, req); !errors.Is(err, database.ErrAlreadyConfirmed) {
		t.Errorf("expected ErrAlreadyConfirmed on retry, got %v", err)
	}
	if faces := f.faces.Faces(p.ID); len(faces) != 1 || faces[0].Status != database.PersonStatusConfirmed {
		t.Errorf("retry should tag the face confirmed, got %+v", faces)
	}
}

func TestConfirm_ConcurrentCallersConfirmOnce(t *testing.T) {
	f := newFixture(t)
	p := f.stub(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Confirm(context.Background(), p.ID, ConfirmRequest{
				Name: "Asha", Relation: "daughter", Note: strings.Repeat("x", i),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, database.ErrAlreadyConfirmed):
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful confirm, got %d", ok)
	}
	if n := f.svc.locks.size(); n != 0 {
		t.Errorf("locks leaked: %d", n)
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.enroll(t)

	if _, err := f.svc.Context(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	f.svc.cache.Wait()

	name := "Ravi Kumar"
	newFace := f.face(t, 90, []float32{0, 0, 1})
	view, err := f.svc.Update(ctx, p.ID, UpdateRequest{Name: &name, Image: newFace})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if view.Name != "Ravi Kumar" || view.Relation != "son" {
		t.Errorf("unexpected view %+v", view)
	}
	got, _ := f.svc.Context(ctx, p.ID)
	if got.Name != "Ravi Kumar" {
		t.Errorf("cached view survived the update: %+v", got)
	}
	faces := f.faces.Faces(p.ID)
	if len(faces) != 1 || faces[0].Embedding[2] != 1 {
		t.Errorf("embedding not replaced: %+v", faces)
	}
}

func TestUpdate_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stub := f.stub(t)

	name := "Asha"
	if _, err := f.svc.Update(ctx, stub.ID, UpdateRequest{Name: &name}); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("update of temporary person = %v, want ErrNotConfirmed", err)
	}

	p := f.enroll(t)
	if _, err := f.svc.Update(ctx, p.ID, UpdateRequest{Image: []byte("no face here")}); !errors.Is(err, embedding.ErrNoFaceFound) {
		t.Errorf("update with faceless photo = %v, want ErrNoFaceFound", err)
	}
	stored, _ := f.persons.GetPerson(ctx, p.ID)
	if stored.Name != "Ravi" {
		t.Errorf("failed update must not write, got %+v", stored)
	}

	empty := "  "
	if _, err := f.svc.Update(ctx, p.ID, UpdateRequest{Relation: &empty}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank relation = %v, want ErrInvalidInput", err)
	}
}

func TestUpdate_FaceStoreFailureIsReported(t *testing.T) {
	f := newFixture(t)
	p := f.enroll(t)
	f.faces.SaveFaceError = errors.New("vector store down")

	note := "New note"
	_, err := f.svc.Update(context.Background(), p.ID, UpdateRequest{
		Note:  &note,
		Image: f.face(t, 90, []float32{0, 0, 1}),
	})
	if !errors.Is(err, ErrInconsistentStores) {
		t.Errorf("expected ErrInconsistentStores, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.enroll(t)
	if _, err := f.svc.SaveMemory(ctx, p.ID, []byte("audio"), "a.webm"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Context(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	f.svc.cache.Wait()

	if err := f.svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(f.faces.Faces(p.ID)) != 0 || f.persons.Len() != 0 {
		t.Error("person must be removed from both stores")
	}
	if mems, _ := f.memories.ListMemories(ctx, p.ID, 0); len(mems) != 0 {
		t.Errorf("memories remain: %+v", mems)
	}
	if _, err := f.svc.Context(ctx, p.ID); !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("context after delete = %v, want ErrPersonNotFound", err)
	}
	if _, err := f.svc.Thumbnails().Load(p.ID); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("thumbnail should be gone, got %v", err)
	}
	if cue := f.svc.Cue(ctx, p.ID); cue.Reason != CueReasonPersonNotFound {
		t.Errorf("cue after delete = %+v", cue)
	}
	if err := f.svc.Delete(ctx, p.ID); !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("second delete = %v, want ErrPersonNotFound", err)
	}
}

func TestDelete_PartialFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.enroll(t)

	f.faces.DeleteFacesError = errors.New("vector store down")
	err := f.svc.Delete(ctx, p.ID)
	if err == nil || errors.Is(err, ErrInconsistentStores) {
		t.Errorf("face store failure leaves both stores intact, got %v", err)
	}
	if f.persons.Len() != 1 || len(f.faces.Faces(p.ID)) != 1 {
		t.Error("nothing should be deleted when the face store fails")
	}

	f.faces.DeleteFacesError = nil
	f.persons.DeleteError = errors.New("metadata store down")
	if err := f.svc.Delete(ctx, p.ID); !errors.Is(err, ErrInconsistentStores) {
		t.Errorf("expected ErrInconsistentStores, got %v", err)
	}
}

func TestSaveMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.enroll(t)
	f.text.summary = &ai.MemorySummary{Summary: "You talked about the garden.", EmotionalTone: "happy"}

	m, err := f.svc.SaveMemory(ctx, p.ID, []byte("audio"), "memory.webm")
	if err != nil {
		t.Fatalf("SaveMemory failed: %v", err)
	}
	if m.Summary != "You talked about the garden." || m.Transcript != "we talked about the garden" {
		t.Errorf("unexpected memory %+v", m)
	}
	stored, _ := f.persons.GetPerson(ctx, p.ID)
	if stored.FamiliarityScore != 0.05 || stored.InteractionCount != 1 || stored.LastSeenAt == nil {
		t.Errorf("visit not recorded: %+v", stored)
	}

	mems, err := f.svc.Memories(ctx, p.ID, 0)
	if err != nil || len(mems) != 1 {
		t.Errorf("expected one memory, got %+v, %v", mems, err)
	}
}

func TestSaveMemory_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.enroll(t)

	if _, err := f.svc.SaveMemory(ctx, "unknown", []byte("a"), "a.webm"); !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("unknown person = %v, want ErrPersonNotFound", err)
	}

	f.speech.transcript = "   "
	if _, err := f.svc.SaveMemory(ctx, p.ID, []byte("a"), "a.webm"); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("silent audio = %v, want ErrEmptyTranscript", err)
	}

	f.speech.transcript = "hello"
	f.text.summaryErr = errors.New("model down")
	m, err := f.svc.SaveMemory(ctx, p.ID, []byte("a"), "a.webm")
	if err != nil {
		t.Fatalf("summary failure must fall back, got %v", err)
	}
	if m.Summary != ai.FallbackSummary().Summary || m.EmotionalTone != "neutral" {
		t.Errorf("unexpected fallback memory %+v", m)
	}
}

func TestCue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.enroll(t)
	f.text.summary = &ai.MemorySummary{Summary: "You planted tomatoes.", EmotionalTone: "happy"}
	if _, err := f.svc.SaveMemory(ctx, p.ID, []byte("a"), "a.webm"); err != nil {
		t.Fatal(err)
	}

	cue := f.svc.Cue(ctx, p.ID)
	if string(cue.Audio) != "mp3" || cue.Text != "This is Ravi, your son." || cue.Reason != "" {
		t.Errorf("unexpected cue %+v", cue)
	}
	if f.text.lastCue.RecentMemory != "You planted tomatoes." || f.text.lastCue.Name != "Ravi" {
		t.Errorf("cue request missing context: %+v", f.text.lastCue)
	}

	f.text.cueErr = errors.New("model down")
	cue = f.svc.Cue(ctx, p.ID)
	if cue.Text != ai.FallbackCueText("Ravi") || cue.Audio == nil {
		t.Errorf("generation failure should use the fallback text, got %+v", cue)
	}

	f.speech.synthErr = errors.New("tts down")
	cue = f.svc.Cue(ctx, p.ID)
	if cue.Audio != nil || cue.Reason != CueReasonTTSFailed || cue.Text == "" {
		t.Errorf("unexpected cue on tts failure %+v", cue)
	}
}

func TestHUDContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.enroll(t)
	f.text.condensed = "Sunday visits"

	hud, err := f.svc.HUDContext(ctx, p.ID, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if hud.Name != "Ravi" || hud.Relation != "बेटा" || hud.Routine != "[Hindi] Sunday visits" {
		t.Errorf("unexpected Hindi HUD %+v", hud)
	}

	hud, err = f.svc.HUDContext(ctx, p.ID, "xx")
	if err != nil {
		t.Fatal(err)
	}
	if hud.Relation != "Son" || hud.Routine != "Sunday visits" {
		t.Errorf("unsupported language should fall back to English, got %+v", hud)
	}

	if _, err := f.svc.HUDContext(ctx, "missing", "en"); !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("HUD for unknown person = %v, want ErrPersonNotFound", err)
	}
}

func TestFindConfirmedByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.enroll(t)

	got, err := f.svc.FindConfirmedByName(ctx, "RAVI")
	if err != nil || got.ID != p.ID {
		t.Errorf("FindConfirmedByName = %+v, %v", got, err)
	}
	if _, err := f.svc.FindConfirmedByName(ctx, "Asha"); !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("expected ErrPersonNotFound, got %v", err)
	}
}
