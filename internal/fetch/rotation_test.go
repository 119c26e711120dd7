package fetch

import (
	"reflect"
	"testing"

	"coinlens/internal/domain"
)

func TestRotatorRoundRobin(t *testing.T) {
	t.Parallel()

	r := NewRotator()
	providers := []string{"a", "b", "c"}

	want := [][]string{
		{"a", "b", "c"},
		{"b", "c", "a"},
		{"c", "a", "b"},
		{"a", "b", "c"},
	}
	for i, w := range want {
		got := r.Order(domain.CategoryQuote, 1, providers)
		if !reflect.DeepEqual(got, w) {
			t.Fatalf("rotation %d: got %v, want %v", i, got, w)
		}
	}
}

func TestRotatorIndependentPerCategoryAndTier(t *testing.T) {
	t.Parallel()

	r := NewRotator()
	providers := []string{"a", "b"}

	r.Order(domain.CategoryQuote, 1, providers)
	if got := r.Order(domain.CategoryNews, 1, providers); got[0] != "a" {
		t.Fatalf("news tier should start fresh, got %v", got)
	}
	if got := r.Order(domain.CategoryQuote, 2, providers); got[0] != "a" {
		t.Fatalf("tier 2 should start fresh, got %v", got)
	}
	if got := r.Order(domain.CategoryQuote, 1, providers); got[0] != "b" {
		t.Fatalf("tier 1 should have advanced, got %v", got)
	}
}

func TestRotatorSingleProvider(t *testing.T) {
	t.Parallel()

	r := NewRotator()
	for i := 0; i < 3; i++ {
		got := r.Order(domain.CategoryQuote, 1, []string{"solo"})
		if len(got) != 1 || got[0] != "solo" {
			t.Fatalf("rotation %d: got %v", i, got)
		}
	}
}
