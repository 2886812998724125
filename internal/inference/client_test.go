package inference

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alertstack/trigger-rca/internal/utils"
)

type fakeBackend struct {
	responses []string
	errs      []error
	calls     int
	delay     time.Duration
}

func (f *fakeBackend) Complete(ctx context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", fmt.Errorf("no scripted response for call %d", i)
}

func (f *fakeBackend) Name() string               { return "fake" }
func (f *fakeBackend) Ping(context.Context) error { return nil }

func TestClientRetriesThenSucceeds(t *testing.T) {
	backend := &fakeBackend{
		errs:      []error{errors.New("transient"), nil},
		responses: []string{"", `{"hypotheses":[{"cause":"X","score":0.5}],"confidence":0.5}`},
	}
	client := NewClient(backend, ClientConfig{Timeout: time.Second, MaxRetries: 1}, utils.NewDiscardLogger())

	out, err := client.Analyze(context.Background(), Input{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("calls = %d, want 2", backend.calls)
	}
	if len(out.Hypotheses) != 1 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestClientExhaustedRetries(t *testing.T) {
	backend := &fakeBackend{
		errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	client := NewClient(backend, ClientConfig{Timeout: time.Second, MaxRetries: 2}, utils.NewDiscardLogger())

	_, err := client.Analyze(context.Background(), Input{})
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
	if backend.calls != 3 {
		t.Fatalf("calls = %d, want 3", backend.calls)
	}
}

func TestClientTimeout(t *testing.T) {
	backend := &fakeBackend{delay: 200 * time.Millisecond}
	client := NewClient(backend, ClientConfig{Timeout: 20 * time.Millisecond, MaxRetries: 3}, utils.NewDiscardLogger())

	start := time.Now()
	_, err := client.Analyze(context.Background(), Input{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout did not bound the attempts")
	}
}
