package qdrant

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestPayloadString(t *testing.T) {
	payload := qdrant.NewValueMap(map[string]any{
		payloadPersonID: "p-1",
		"count":         3,
	})

	if got := payloadString(payload, payloadPersonID); got != "p-1" {
		t.Errorf("payloadString(person_id) = %q, want p-1", got)
	}
	if got := payloadString(payload, "count"); got != "" {
		t.Errorf("non-string payload should read as empty, got %q", got)
	}
	if got := payloadString(payload, "missing"); got != "" {
		t.Errorf("missing key should read as empty, got %q", got)
	}
}

func TestPersonFilter(t *testing.T) {
	sel := personFilter("p-1")
	f := sel.GetFilter()
	if f == nil || len(f.GetMust()) != 1 {
		t.Fatalf("expected a single must condition, got %+v", sel)
	}
	match := f.GetMust()[0].GetField()
	if match.GetKey() != payloadPersonID {
		t.Errorf("filter key = %q, want %q", match.GetKey(), payloadPersonID)
	}
	if match.GetMatch().GetKeyword() != "p-1" {
		t.Errorf("filter keyword = %q, want p-1", match.GetMatch().GetKeyword())
	}
}
