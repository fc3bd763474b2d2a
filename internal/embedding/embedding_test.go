package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F'}

func faceServer(t *testing.T, resp FaceResponse, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			defer file.Close()
			if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
				t.Errorf("expected image/jpeg part, got %s", ct)
			}
			data, _ := io.ReadAll(file)
			if len(data) != len(jpegHeader) {
				t.Errorf("expected %d bytes, got %d", len(jpegHeader), len(data))
			}
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestExtractEmbedding_PicksMostConfidentFace(t *testing.T) {
	srv := faceServer(t, FaceResponse{
		FacesCount: 3,
		Faces: []FaceDetection{
			{FaceIndex: 0, Embedding: []float32{1, 0}, BBox: []float64{0, 0, 10, 10}, DetScore: 0.7},
			{FaceIndex: 1, Embedding: []float32{0, 1}, BBox: []float64{0, 0, 5, 5}, DetScore: 0.9},
			{FaceIndex: 2, Embedding: []float32{1, 1}, BBox: []float64{0, 0, 50, 50}, DetScore: 0.9},
		},
	}, http.StatusOK)
	defer srv.Close()

	got, err := NewClient(srv.URL, 2).ExtractEmbedding(context.Background(), jpegHeader)
	if err != nil {
		t.Fatalf("ExtractEmbedding failed: %v", err)
	}
	// Equal scores fall back to the larger box.
	if got[0] != 1 || got[1] != 1 {
		t.Errorf("expected embedding of face 2, got %v", got)
	}
}

func TestExtractEmbedding_NoFace(t *testing.T) {
	srv := faceServer(t, FaceResponse{FacesCount: 0}, http.StatusOK)
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).ExtractEmbedding(context.Background(), jpegHeader)
	if !errors.Is(err, ErrNoFaceFound) {
		t.Errorf("expected ErrNoFaceFound, got %v", err)
	}
}

func TestExtractEmbedding_ServerError(t *testing.T) {
	srv := faceServer(t, FaceResponse{}, http.StatusInternalServerError)
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).ExtractEmbedding(context.Background(), jpegHeader)
	if err == nil || errors.Is(err, ErrNoFaceFound) {
		t.Errorf("expected a transport error, got %v", err)
	}
}

func TestExtractEmbedding_DimensionMismatch(t *testing.T) {
	srv := faceServer(t, FaceResponse{
		FacesCount: 1,
		Faces:      []FaceDetection{{Embedding: []float32{1, 2, 3}, DetScore: 1}},
	}, http.StatusOK)
	defer srv.Close()

	if _, err := NewClient(srv.URL, 512).ExtractEmbedding(context.Background(), jpegHeader); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestDecodeImagePayload(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "aGVsbG8=", "hello", false},
		{"data uri", "data:image/jpeg;base64,aGVsbG8=", "hello", false},
		{"unpadded", "aGVsbG8", "hello", false},
		{"empty", "  ", "", true},
		{"garbage", "!!!", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeImagePayload(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if string(got) != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	if got := DetectMIMEType(jpegHeader); got != "image/jpeg" {
		t.Errorf("DetectMIMEType(jpeg) = %s", got)
	}
	if got := DetectMIMEType([]byte{1, 2}); got != "application/octet-stream" {
		t.Errorf("DetectMIMEType(short) = %s", got)
	}
}
