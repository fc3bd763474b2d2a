package recognition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/database/mock"
	"github.com/kozaktomas/cue/internal/embedding"
)

// fakeExtractor maps frame contents to embeddings or errors.
type fakeExtractor struct {
	mu     sync.Mutex
	embs   map[string][]float32
	errs   map[string]error
	called []string
}

func (f *fakeExtractor) ExtractEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(image)
	f.called = append(f.called, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if emb, ok := f.embs[key]; ok {
		return emb, nil
	}
	return nil, embedding.ErrNoFaceFound
}

// fakeStubber records stubs in the mock stores.
type fakeStubber struct {
	faces   *mock.MockFaceStore
	persons *mock.MockPersonStore
	created []*database.Person
	embs    [][]float32
	images  [][]byte
}

func (s *fakeStubber) CreateTemporary(ctx context.Context, emb []float32, image []byte) (*database.Person, error) {
	p := &database.Person{
		ID:        uuid.NewString(),
		Status:    database.PersonStatusTemporary,
		CreatedAt: time.Now(),
	}
	if err := s.persons.CreatePerson(ctx, p); err != nil {
		return nil, err
	}
	s.faces.AddFace(p.ID, p.Status, emb)
	s.created = append(s.created, p)
	s.embs = append(s.embs, emb)
	s.images = append(s.images, image)
	return p, nil
}

// vec builds a 4-dim unit-ish vector leaning towards axis i.
func vec(i int, lean float32) []float32 {
	v := []float32{lean, lean, lean, lean}
	v[i] = 1
	return v
}

type fixture struct {
	extractor *fakeExtractor
	faces     *mock.MockFaceStore
	persons   *mock.MockPersonStore
	stubs     *fakeStubber
	resolver  *Resolver
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		extractor: &fakeExtractor{embs: map[string][]float32{}, errs: map[string]error{}},
		faces:     mock.NewMockFaceStore(),
		persons:   mock.NewMockPersonStore(),
	}
	f.stubs = &fakeStubber{faces: f.faces, persons: f.persons}
	f.resolver = NewResolver(f.extractor, f.faces, f.persons, f.stubs, opts)
	return f
}

func (f *fixture) addPerson(id string, status database.PersonStatus, emb []float32) {
	f.persons.AddPerson(database.Person{ID: id, Status: status, Name: "Name " + id, CreatedAt: time.Now()})
	f.faces.AddFace(id, status, emb)
}

func frames(names ...string) [][]byte {
	out := make([][]byte, len(names))
	for i, n := range names {
		out[i] = []byte(n)
	}
	return out
}

func TestResolve_FirstConfirmedMatchStopsScan(t *testing.T) {
	f := newFixture(Options{})
	f.addPerson("asha", database.PersonStatusConfirmed, vec(0, 0))
	f.extractor.embs["f1"] = vec(1, 0)
	f.extractor.embs["f2"] = vec(2, 0)
	f.extractor.embs["f3"] = vec(0, 0.05)
	f.extractor.embs["f4"] = vec(0, 0)
	f.extractor.embs["f5"] = vec(0, 0)

	res, err := f.resolver.Resolve(context.Background(), frames("f1", "f2", "f3", "f4", "f5"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Recognized || res.PersonID != "asha" || res.Status != database.PersonStatusConfirmed {
		t.Fatalf("expected confirmed asha, got %+v", res)
	}
	if len(f.extractor.called) != 3 {
		t.Errorf("expected 3 frames examined, got %v", f.extractor.called)
	}
	if f.faces.FindSimilarCalls != 3 {
		t.Errorf("expected 3 searches, got %d", f.faces.FindSimilarCalls)
	}

	p, _ := f.persons.GetPerson(context.Background(), "asha")
	if p.LastSeenAt == nil || p.InteractionCount != 1 {
		t.Errorf("expected last seen to be recorded, got %+v", p)
	}
	if len(f.stubs.created) != 0 {
		t.Errorf("no stub expected on a confirmed match")
	}
}

func TestResolve_SkipsFramesWithoutFace(t *testing.T) {
	f := newFixture(Options{})
	f.addPerson("asha", database.PersonStatusConfirmed, vec(0, 0))
	f.extractor.embs["f2"] = vec(0, 0)

	res, err := f.resolver.Resolve(context.Background(), frames("empty", "f2"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Recognized || res.PersonID != "asha" {
		t.Errorf("expected asha, got %+v", res)
	}
}

func TestResolve_TemporaryMatch(t *testing.T) {
	f := newFixture(Options{})
	f.addPerson("stub", database.PersonStatusTemporary, vec(1, 0))
	f.extractor.embs["f1"] = vec(1, 0)

	res, err := f.resolver.Resolve(context.Background(), frames("f1", "empty"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Recognized || res.Status != database.PersonStatusTemporary || res.PersonID != "stub" {
		t.Errorf("expected temporary match, got %+v", res)
	}
	if len(f.stubs.created) != 0 {
		t.Errorf("a known temporary face must not be stubbed again")
	}
}

func TestResolve_ConfirmedWinsOverEarlierTemporary(t *testing.T) {
	f := newFixture(Options{})
	f.addPerson("stub", database.PersonStatusTemporary, vec(1, 0))
	f.addPerson("asha", database.PersonStatusConfirmed, vec(0, 0))
	f.extractor.embs["f1"] = vec(1, 0)
	f.extractor.embs["f2"] = vec(0, 0)

	res, err := f.resolver.Resolve(context.Background(), frames("f1", "f2"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.PersonID != "asha" || res.Status != database.PersonStatusConfirmed {
		t.Errorf("expected confirmed asha, got %+v", res)
	}
}

func TestResolve_NoMatchCreatesOneStubFromStrongestFrame(t *testing.T) {
	f := newFixture(Options{})
	f.addPerson("asha", database.PersonStatusConfirmed, []float32{1, 0, 0, 0})
	// Similarities to asha: f1 = 0, f2 ~ 0.45, f3 ~ 0.2; all below 0.8.
	f.extractor.embs["f1"] = []float32{0, 1, 0, 0}
	f.extractor.embs["f2"] = []float32{0.5, 1, 0, 0}
	f.extractor.embs["f3"] = []float32{0.2, 1, 0, 0}

	res, err := f.resolver.Resolve(context.Background(), frames("f1", "f2", "f3", "empty"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Recognized || res.PersonID != "" {
		t.Errorf("expected recognized=false without a person id, got %+v", res)
	}
	if len(f.stubs.created) != 1 {
		t.Fatalf("expected exactly one stub, got %d", len(f.stubs.created))
	}
	if string(f.stubs.images[0]) != "f2" {
		t.Errorf("stub should use the frame with the highest raw similarity, got %s", f.stubs.images[0])
	}
	if f.stubs.created[0].Name != "" {
		t.Errorf("stub must not carry identity fields")
	}
}

func TestResolve_EmptyStoreStubsFirstFace(t *testing.T) {
	f := newFixture(Options{})
	f.extractor.embs["f2"] = vec(1, 0)
	f.extractor.embs["f3"] = vec(2, 0)

	res, err := f.resolver.Resolve(context.Background(), frames("empty", "f2", "f3"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Recognized {
		t.Errorf("expected not recognized, got %+v", res)
	}
	if len(f.stubs.images) != 1 || string(f.stubs.images[0]) != "f2" {
		t.Errorf("expected one stub from f2, got %q", f.stubs.images)
	}
}

func TestResolve_NoFaceAnywhere(t *testing.T) {
	f := newFixture(Options{})

	res, err := f.resolver.Resolve(context.Background(), frames("a", "b", "c"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Recognized {
		t.Errorf("expected not recognized")
	}
	if len(f.stubs.created) != 0 {
		t.Errorf("no stub expected without any face")
	}
}

func TestResolve_StoreErrorOnEveryFrame(t *testing.T) {
	f := newFixture(Options{})
	f.extractor.embs["f1"] = vec(0, 0)
	f.extractor.embs["f2"] = vec(1, 0)
	f.faces.FindSimilarError = errors.New("store unreachable")

	_, err := f.resolver.Resolve(context.Background(), frames("f1", "f2"))
	if !errors.Is(err, ErrResolveFailed) {
		t.Errorf("expected ErrResolveFailed, got %v", err)
	}
	if len(f.stubs.created) != 0 {
		t.Errorf("no stub expected when the store is down")
	}
}

func TestResolve_ExtractionErrorsAreSkipped(t *testing.T) {
	f := newFixture(Options{})
	f.addPerson("asha", database.PersonStatusConfirmed, vec(0, 0))
	f.extractor.errs["bad"] = errors.New("embedding server timeout")
	f.extractor.embs["good"] = vec(0, 0)

	res, err := f.resolver.Resolve(context.Background(), frames("bad", "good"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.PersonID != "asha" {
		t.Errorf("expected asha, got %+v", res)
	}
}

func TestResolve_EmptyBatch(t *testing.T) {
	f := newFixture(Options{})
	if _, err := f.resolver.Resolve(context.Background(), nil); !errors.Is(err, ErrNoFrames) {
		t.Errorf("expected ErrNoFrames, got %v", err)
	}
}

func TestResolve_DeletedPersonIsNeverReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})
	f.addPerson("asha", database.PersonStatusConfirmed, vec(0, 0))
	f.extractor.embs["face"] = vec(0, 0)

	res, err := f.resolver.Resolve(ctx, frames("face"))
	if err != nil || res.PersonID != "asha" {
		t.Fatalf("expected asha before delete, got %+v, %v", res, err)
	}

	if err := f.faces.DeleteFaces(ctx, "asha"); err != nil {
		t.Fatal(err)
	}
	if err := f.persons.DeletePerson(ctx, "asha"); err != nil {
		t.Fatal(err)
	}

	res, err = f.resolver.Resolve(ctx, frames("face"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Recognized || res.PersonID == "asha" {
		t.Errorf("deleted person must not be returned, got %+v", res)
	}
	if len(f.stubs.created) != 1 {
		t.Errorf("expected a fresh temporary person, got %d", len(f.stubs.created))
	}
}

func TestResolve_OrphanedEmbeddingIsIgnored(t *testing.T) {
	f := newFixture(Options{})
	f.faces.AddFace("ghost", database.PersonStatusConfirmed, vec(0, 0))
	f.extractor.embs["face"] = vec(0, 0)

	res, err := f.resolver.Resolve(context.Background(), frames("face"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Recognized {
		t.Errorf("embedding without a person record must not be recognized, got %+v", res)
	}
}

func TestResolve_RequireAgreement(t *testing.T) {
	tests := []struct {
		name       string
		frames     []string
		wantPerson string
	}{
		{"agreeing frames", []string{"a1", "a2"}, "asha"},
		{"disagreeing frames", []string{"a1", "r1"}, ""},
		{"disagreement falls back to temporary", []string{"a1", "r1", "t1"}, "stub"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(Options{RequireAgreement: true})
			f.addPerson("asha", database.PersonStatusConfirmed, vec(0, 0))
			f.addPerson("ravi", database.PersonStatusConfirmed, vec(1, 0))
			f.extractor.embs["a1"] = vec(0, 0)
			f.extractor.embs["a2"] = vec(0, 0.01)
			f.extractor.embs["r1"] = vec(1, 0)
			f.addPerson("stub", database.PersonStatusTemporary, vec(2, 0))
			f.extractor.embs["t1"] = vec(2, 0)

			res, err := f.resolver.Resolve(context.Background(), frames(tc.frames...))
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if res.PersonID != tc.wantPerson {
				t.Errorf("PersonID = %q, want %q", res.PersonID, tc.wantPerson)
			}
			if len(f.extractor.called) != len(tc.frames) {
				t.Errorf("agreement mode should scan every frame")
			}
			if len(f.stubs.created) != 0 {
				t.Errorf("known faces must not be stubbed")
			}
		})
	}
}
