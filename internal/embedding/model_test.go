package embedding

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/embedgate/internal/embederr"
)

// recordingEncoder returns a fixed vector and tracks peak concurrency.
type recordingEncoder struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32

	mu    sync.Mutex
	texts []string
}

func (e *recordingEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	return e.run(ctx)
}

func (e *recordingEncoder) EncodeImage(ctx context.Context, _ *image.RGBA) ([]float32, error) {
	return e.run(ctx)
}

func (e *recordingEncoder) run(ctx context.Context) ([]float32, error) {
	e.calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []float32{1, 2, 3}, nil
}

func (e *recordingEncoder) lastText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.texts) == 0 {
		return ""
	}
	return e.texts[len(e.texts)-1]
}

func TestModelSerializesWithOneSlot(t *testing.T) {
	enc := &recordingEncoder{delay: 20 * time.Millisecond}
	m := NewModelFromEncoders("serial", enc, nil, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.encodeText(context.Background(), "x"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := enc.peak.Load(); got != 1 {
		t.Errorf("peak concurrency %d, want 1", got)
	}
}

func TestModelWithoutSlotsRunsConcurrently(t *testing.T) {
	enc := &recordingEncoder{delay: 50 * time.Millisecond}
	m := NewModelFromEncoders("parallel", enc, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.encodeText(context.Background(), "x")
		}()
	}
	wg.Wait()

	if got := enc.peak.Load(); got < 2 {
		t.Errorf("peak concurrency %d, want at least 2", got)
	}
}

func TestModelRefusesExpiredDeadline(t *testing.T) {
	enc := &recordingEncoder{}
	m := NewModelFromEncoders("m", enc, nil, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := m.encodeText(ctx, "late")
	if !errors.Is(err, embederr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if enc.calls.Load() != 0 {
		t.Errorf("encoder must not be called after the deadline")
	}
}

func TestModelTimesOutWaitingForSlot(t *testing.T) {
	enc := &recordingEncoder{delay: 200 * time.Millisecond}
	m := NewModelFromEncoders("m", enc, nil, 1)

	go func() { _, _ = m.encodeText(context.Background(), "slow") }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.encodeText(ctx, "queued")
	if !errors.Is(err, embederr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestNewModelRejectsBadConfig(t *testing.T) {
	logger := zap.NewNop()
	cases := []Config{
		{Type: "hash", Dims: 4},
		{ID: "a", Type: "nope"},
		{ID: "a", Type: "hash"},
		{ID: "a", Type: "sidecar"},
		{ID: "a", Type: "ollama"},
		{ID: "a", Type: "hash", Dims: 4, Concurrency: -1},
	}
	for _, cfg := range cases {
		if _, err := NewModel(cfg, logger); !errors.Is(err, embederr.ErrConfiguration) {
			t.Errorf("config %+v: expected configuration error, got %v", cfg, err)
		}
	}
}

func TestNewModelCapabilities(t *testing.T) {
	logger := zap.NewNop()

	hash, err := NewModel(Config{ID: "h", Type: "hash", Dims: 8}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hash.CanEncode(Text) || !hash.CanEncode(Image) {
		t.Errorf("hash model should encode text and images")
	}

	ollama, err := NewModel(Config{ID: "o", Type: "ollama", Model: "all-minilm"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ollama.CanEncode(Text) || ollama.CanEncode(Image) {
		t.Errorf("ollama model should be text-only")
	}
	if ollama.Fingerprint() != "ollama/all-minilm" {
		t.Errorf("unexpected fingerprint %q", ollama.Fingerprint())
	}
}
