package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSidecarEncodeText(t *testing.T) {
	var got sidecarRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/encode", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(sidecarResponse{Vector: []float32{0.1, 0.2, 0.3}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewSidecarEncoder(srv.URL+"/", "clip-ViT-B-32", 0)
	vec, err := e.EncodeText(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got dimension %d, want 3", len(vec))
	}
	if got.Text == nil || *got.Text != "" {
		t.Errorf("empty text must be sent as an explicit empty string")
	}
	if got.Model != "clip-ViT-B-32" {
		t.Errorf("got model %q", got.Model)
	}
}

func TestSidecarEncodeImage(t *testing.T) {
	var got sidecarRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/encode", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(sidecarResponse{Vector: []float32{1, 0}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewSidecarEncoder(srv.URL, "clip", 0)
	if _, err := e.EncodeImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != nil {
		t.Errorf("image request must not carry text")
	}
	raw, err := base64.StdEncoding.DecodeString(got.Image)
	if err != nil {
		t.Fatalf("image is not base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("image is not a png: %v", err)
	}
	if img.Bounds().Dx() != 2 {
		t.Errorf("got width %d", img.Bounds().Dx())
	}
}

func TestSidecarErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewSidecarEncoder(srv.URL, "clip", 0)
	if _, err := e.EncodeText(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestLocalEncoderEmbed(t *testing.T) {
	var got localRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(localResponse{Embedding: []float32{0.5, 0.5}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewLocalEncoder(srv.URL, "all-minilm", 0)
	vec, err := e.EncodeText(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("got dimension %d, want 2", len(vec))
	}
	if got.Prompt != " " {
		t.Errorf("empty prompt should be sent as a single space, got %q", got.Prompt)
	}
	if got.Model != "all-minilm" {
		t.Errorf("got model %q", got.Model)
	}
}

func TestLocalEncoderDefaultEndpoint(t *testing.T) {
	e := NewLocalEncoder("", "m", 0)
	if e.endpoint != DefaultOllamaEndpoint {
		t.Errorf("got endpoint %q", e.endpoint)
	}
}

func TestAPIEncoderEmbed(t *testing.T) {
	// The openai client posts to baseURL+"embeddings".
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"test-model","data":[{"object":"embedding","index":0,"embedding":[0.25,-0.5,1.0]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewAPIEncoder(srv.URL+"/", "test-key", "test-model", 3, 0)
	vec, err := e.EncodeText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.25 || vec[1] != -0.5 {
		t.Fatalf("got %v", vec)
	}
	if got["model"] != "test-model" {
		t.Errorf("got model %v", got["model"])
	}
	if got["dimensions"] != float64(3) {
		t.Errorf("got dimensions %v", got["dimensions"])
	}
}

func TestHashEncoderDeterministic(t *testing.T) {
	e := NewHashEncoder(40)
	ctx := context.Background()

	a, _ := e.EncodeText(ctx, "red shoes")
	b, _ := e.EncodeText(ctx, "red shoes")
	c, _ := e.EncodeText(ctx, "blue shoes")
	if len(a) != 40 {
		t.Fatalf("got dimension %d, want 40", len(a))
	}
	same, differs := true, false
	for i := range a {
		if a[i] != b[i] {
			same = false
		}
		if a[i] != c[i] {
			differs = true
		}
		if a[i] == 0 {
			t.Errorf("component %d is zero", i)
		}
	}
	if !same {
		t.Error("identical input produced different vectors")
	}
	if !differs {
		t.Error("different input produced identical vectors")
	}

	empty, err := e.EncodeText(ctx, "")
	if err != nil || len(empty) != 40 {
		t.Fatalf("empty text: %v, %d", err, len(empty))
	}
}

func TestHashEncoderImageIgnoresOffset(t *testing.T) {
	e := NewHashEncoder(8)
	ctx := context.Background()

	full := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range full.Pix {
		full.Pix[i] = byte(i)
	}
	sub := full.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	copyOf := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			copyOf.SetRGBA(x, y, sub.RGBAAt(x+1, y+1))
		}
	}

	a, _ := e.EncodeImage(ctx, sub)
	b, _ := e.EncodeImage(ctx, copyOf)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sub-image and copy differ at %d", i)
		}
	}
}
