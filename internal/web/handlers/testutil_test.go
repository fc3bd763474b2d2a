package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/cue/internal/ai"
	"github.com/kozaktomas/cue/internal/config"
	"github.com/kozaktomas/cue/internal/database/mock"
	"github.com/kozaktomas/cue/internal/embedding"
	"github.com/kozaktomas/cue/internal/people"
	"github.com/kozaktomas/cue/internal/recognition"
)

// fakeExtractor maps image bytes to known embeddings
type fakeExtractor struct {
	embeddings map[string][]float32
}

func (f *fakeExtractor) ExtractEmbedding(_ context.Context, img []byte) ([]float32, error) {
	if emb, ok := f.embeddings[string(img)]; ok {
		return emb, nil
	}
	return nil, embedding.ErrNoFaceFound
}

type fakeText struct{}

func (fakeText) CueText(_ context.Context, req ai.CueRequest) (string, error) {
	return "This is " + req.Name + ", your " + req.Relation + ".", nil
}

func (fakeText) Summarize(_ context.Context, transcript string) (*ai.MemorySummary, error) {
	return &ai.MemorySummary{Summary: "Talked: " + transcript, EmotionalTone: "warm"}, nil
}

func (fakeText) Condense(_ context.Context, text string) (string, error) { return text, nil }

func (fakeText) Translate(_ context.Context, text, languageName string) (string, error) {
	return "[" + languageName + "] " + text, nil
}

type fakeSpeech struct {
	transcript string
	audio      []byte
}

func (f *fakeSpeech) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	return f.transcript, nil
}

func (f *fakeSpeech) Synthesize(_ context.Context, _ string) ([]byte, error) {
	return f.audio, nil
}

// testEnv is a lifecycle service over in-memory stores
type testEnv struct {
	svc      *people.Service
	faces    *mock.MockFaceStore
	persons  *mock.MockPersonStore
	memories *mock.MockMemoryStore
	extract  *fakeExtractor
	speech   *fakeSpeech
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	thumbs, err := people.NewThumbnailStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := &testEnv{
		faces:    mock.NewMockFaceStore(),
		persons:  mock.NewMockPersonStore(),
		memories: mock.NewMockMemoryStore(),
		extract:  &fakeExtractor{embeddings: map[string][]float32{}},
		speech:   &fakeSpeech{transcript: "we planted tomatoes", audio: []byte("mp3-bytes")},
	}
	svc, err := people.NewService(people.Deps{
		Faces:      e.faces,
		Persons:    e.persons,
		Memories:   e.memories,
		Extractor:  e.extract,
		Text:       fakeText{},
		Speech:     e.speech,
		Thumbnails: thumbs,
		Relations: &config.RelationsConfig{
			Languages: map[string]config.LanguageInfo{"en": {Name: "English"}, "hi": {Name: "Hindi"}},
			Relations: map[string]map[string]string{"daughter": {"en": "Daughter", "hi": "बेटी"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Close)
	e.svc = svc

	resolver := recognition.NewResolver(e.extract, e.faces, e.persons, svc, recognition.Options{})
	e.router = testRouter(NewPatientHandler(svc, resolver), NewCaregiverHandler(svc))
	return e
}

func testRouter(patient *PatientHandler, caregiver *CaregiverHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/recognize-face", patient.RecognizeFace)
	r.Post("/hud-context", patient.HUDContext)
	r.Get("/whisper/{personId}", patient.Whisper)
	r.Post("/memory/save", patient.SaveMemory)
	r.Get("/caregiver/pending", caregiver.Pending)
	r.Get("/caregiver/confirmed", caregiver.Confirmed)
	r.Post("/caregiver/confirm", caregiver.Confirm)
	r.Post("/caregiver/enroll", caregiver.Enroll)
	r.Put("/caregiver/person/{id}", caregiver.UpdatePerson)
	r.Delete("/caregiver/person/{id}", caregiver.DeletePerson)
	r.Get("/caregiver/person/{id}/memories", caregiver.Memories)
	r.Get("/caregiver/face-image/{id}", caregiver.FaceImage)
	r.Post("/caregiver/rebuild-index", caregiver.RebuildIndex)
	return r
}

// face returns a PNG whose embedding the fake extractor knows
func (e *testEnv) face(t *testing.T, shade uint8, emb []float32) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if emb != nil {
		e.extract.embeddings[buf.String()] = emb
	}
	return buf.Bytes()
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// do sends a request through the test router
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return out
}

// enroll creates a confirmed person through the API
func (e *testEnv) enroll(t *testing.T, name, relation string, emb []float32) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/caregiver/enroll", EnrollRequest{
		Name:           name,
		Relation:       relation,
		ImageBase64:    b64(e.face(t, uint8(len(e.extract.embeddings)*40), emb)),
		ContextualNote: "Visits on Sundays",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll failed: %d %s", rec.Code, rec.Body.String())
	}
	return decode[PersonResponse](t, rec).PersonID
}
