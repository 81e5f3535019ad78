package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

func outcome(n int, state item.State) item.Outcome {
	return item.Outcome{
		ID:         fmt.Sprintf("id-%d", n),
		Identifier: fmt.Sprintf("album:%d", n),
		State:      state,
	}
}

func TestBoardLifecycle(t *testing.T) {
	t.Parallel()

	board := NewBoard(3)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		state := item.StateReleased
		if i == 2 {
			state = item.StateFailed
		}
		if err := board.Record(ctx, outcome(i, state)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	recent := board.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained outcomes, got %d", len(recent))
	}
	if recent[0].Identifier != "album:4" || recent[2].Identifier != "album:2" {
		t.Fatalf("expected newest first, got %+v", recent)
	}
	if got := board.Recent(1); len(got) != 1 || got[0].Identifier != "album:4" {
		t.Fatalf("Recent(1) = %+v", got)
	}

	if _, err := board.Get(ctx, "album:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected evicted outcome to be gone, err = %v", err)
	}
	got, err := board.Get(ctx, "album:2")
	if err != nil || got.State != item.StateFailed {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	totals := board.Totals()
	if totals[item.StateReleased] != 3 || totals[item.StateFailed] != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	totals[item.StateReleased] = 99
	if board.Totals()[item.StateReleased] != 3 {
		t.Fatal("expected Totals to return a copy")
	}
}

func TestBoardKeepsNewestPerIdentifier(t *testing.T) {
	t.Parallel()

	board := NewBoard(2)
	ctx := context.Background()
	first := outcome(1, item.StateFailed)
	retry := outcome(1, item.StateReleased)
	retry.ID = "id-retry"
	_ = board.Record(ctx, first)
	_ = board.Record(ctx, retry)
	_ = board.Record(ctx, outcome(2, item.StateReleased))

	got, err := board.Get(ctx, "album:1")
	if err != nil || got.ID != "id-retry" {
		t.Fatalf("expected retry to survive eviction of the first attempt, got %+v, %v", got, err)
	}
}

func TestBoardEmpty(t *testing.T) {
	t.Parallel()

	board := NewBoard(0)
	if got := board.Recent(10); len(got) != 0 {
		t.Fatalf("expected empty board, got %+v", got)
	}
}
