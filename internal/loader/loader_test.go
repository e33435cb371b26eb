package loader

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/gkswns3708/CellViT-plus-plus/internal/annotation"
	"github.com/gkswns3708/CellViT-plus-plus/internal/dataset"
	"github.com/gkswns3708/CellViT-plus-plus/internal/tensor"
)

// fakeSource serves synthetic items; the sample name encodes the index so
// tests can recover visit order from batches.
type fakeSource struct {
	n      int
	failAt int // index whose GetItem fails, -1 for none
}

func (s *fakeSource) Len() int { return s.n }

func (s *fakeSource) GetItem(index int) (dataset.Item, error) {
	if index == s.failAt {
		return dataset.Item{}, fmt.Errorf("synthetic failure at %d", index)
	}
	return dataset.Item{
		Image:      tensor.New(3, 2, 2),
		Detections: []annotation.Point{{X: index, Y: index}},
		Types:      []int{index % 4},
		Name:       fmt.Sprintf("s%03d", index),
	}, nil
}

// drain collects an epoch's results.
func drain(t *testing.T, l *Loader, epoch int) []Result {
	t.Helper()
	var results []Result
	for r := range l.Epoch(context.Background(), epoch) {
		results = append(results, r)
	}
	return results
}

func visitedNames(results []Result) []string {
	var names []string
	for _, r := range results {
		if r.Batch != nil {
			names = append(names, r.Batch.Names...)
		}
	}
	return names
}

func TestEpoch_VisitsEveryIndexOnce(t *testing.T) {
	tests := []struct {
		name        string
		n, batch    int
		dropLast    bool
		wantBatches int
		wantItems   int
	}{
		{"even split", 8, 4, false, 2, 8},
		{"ragged tail kept", 10, 4, false, 3, 10},
		{"ragged tail dropped", 10, 4, true, 2, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(&fakeSource{n: tt.n, failAt: -1}, Options{
				BatchSize: tt.batch, Workers: 3, Shuffle: true, Seed: 11, DropLast: tt.dropLast,
			})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if l.Batches() != tt.wantBatches {
				t.Errorf("Batches(): got %d, want %d", l.Batches(), tt.wantBatches)
			}

			results := drain(t, l, 0)
			if len(results) != tt.wantBatches {
				t.Fatalf("got %d batches, want %d", len(results), tt.wantBatches)
			}
			names := visitedNames(results)
			if len(names) != tt.wantItems {
				t.Fatalf("visited %d items, want %d", len(names), tt.wantItems)
			}
			seen := make(map[string]bool)
			for _, name := range names {
				if seen[name] {
					t.Errorf("index %s visited twice", name)
				}
				seen[name] = true
			}
		})
	}
}

func TestEpoch_DeterministicWithoutShuffle(t *testing.T) {
	l, err := New(&fakeSource{n: 6, failAt: -1}, Options{BatchSize: 2, Workers: 4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	names := visitedNames(drain(t, l, 0))
	want := []string{"s000", "s001", "s002", "s003", "s004", "s005"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("visit order: got %v, want %v", names, want)
	}
}

func TestEpoch_ShuffleReproducible(t *testing.T) {
	l, err := New(&fakeSource{n: 16, failAt: -1}, Options{BatchSize: 4, Shuffle: true, Seed: 5, Workers: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first := visitedNames(drain(t, l, 3))
	second := visitedNames(drain(t, l, 3))
	if !reflect.DeepEqual(first, second) {
		t.Error("same epoch and seed produced different orders")
	}

	other := visitedNames(drain(t, l, 4))
	if reflect.DeepEqual(first, other) {
		t.Error("different epochs should reshuffle")
	}
}

func TestEpoch_ItemErrorEndsEpoch(t *testing.T) {
	l, err := New(&fakeSource{n: 8, failAt: 5}, Options{BatchSize: 4, Workers: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results := drain(t, l, 0)
	last := results[len(results)-1]
	if last.Err == nil {
		t.Fatal("expected the epoch to end with an error result")
	}
	for _, r := range results[:len(results)-1] {
		if r.Err != nil {
			t.Error("only the final result may carry the error")
		}
	}
}

func TestEpoch_ContextCancel(t *testing.T) {
	l, err := New(&fakeSource{n: 100, failAt: -1}, Options{BatchSize: 2, Workers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := l.Epoch(ctx, 0)
	if r := <-ch; r.Err != nil {
		t.Fatalf("first batch failed: %v", r.Err)
	}
	cancel()
	// The channel must close soon after cancellation; draining must not hang.
	for range ch {
	}
}

func TestNew_BadBatchSize(t *testing.T) {
	if _, err := New(&fakeSource{n: 4, failAt: -1}, Options{BatchSize: 0}); err == nil {
		t.Fatal("expected error for zero batch size")
	}
	if _, err := New(&fakeSource{n: 4, failAt: -1}, Options{BatchSize: -2}); err == nil {
		t.Fatal("expected error for negative batch size")
	}
}

func TestEpoch_BatchContents(t *testing.T) {
	l, err := New(&fakeSource{n: 4, failAt: -1}, Options{BatchSize: 4, Workers: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results := drain(t, l, 0)
	if len(results) != 1 {
		t.Fatalf("got %d batches, want 1", len(results))
	}
	batch := results[0].Batch
	if batch.Images.Shape[0] != 4 {
		t.Errorf("leading dimension: got %d, want 4", batch.Images.Shape[0])
	}
	// Items keep index order inside the batch even with concurrent fetches.
	for i := range batch.Names {
		if batch.Detections[i][0].X != i {
			t.Errorf("batch slot %d holds item %d", i, batch.Detections[i][0].X)
		}
	}
}

func TestEpoch_ErrorIsPropagated(t *testing.T) {
	l, err := New(&fakeSource{n: 2, failAt: 0}, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	results := drain(t, l, 0)
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("want a single error result, got %+v", results)
	}
	if !strings.Contains(results[0].Err.Error(), "synthetic failure") {
		t.Errorf("error should carry the item failure, got %v", results[0].Err)
	}
}
