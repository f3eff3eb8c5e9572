package sha256

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestHasherSumDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Sum(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Sum(iotest.OneByteReader(strings.NewReader("hello world")))
	if err != nil {
		t.Fatalf("Sum() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected chunking to be irrelevant, got %s vs %s", got, again)
	}
}

func TestHasherSumReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk gone")
	if _, err := New().Sum(iotest.ErrReader(boom)); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped read error, got %v", err)
	}
}
