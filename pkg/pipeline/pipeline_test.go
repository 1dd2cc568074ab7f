package pipeline

import (
	"errors"
	"fmt"
	"testing"
)

func TestFrom_Collect(t *testing.T) {
	items, err := Collect(From([]int{1, 2, 3}))
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(items) != 3 || items[0] != 1 || items[2] != 3 {
		t.Errorf("Expected [1 2 3], got %v", items)
	}
}

func TestEmpty(t *testing.T) {
	it := Empty[string]()
	if it.Next() {
		t.Error("Expected empty iterator to be exhausted")
	}
}

func TestMap(t *testing.T) {
	doubled, err := Collect(Map(Of(1, 2, 3), func(v int) (int, error) {
		return v * 2, nil
	}))
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if len(doubled) != 3 || doubled[1] != 4 {
		t.Errorf("Expected [2 4 6], got %v", doubled)
	}
}

func TestMap_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := Collect(Map(Of(1, 2), func(v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	}))
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestFlatMap(t *testing.T) {
	out, err := Collect(FlatMap(Of(1, 2), func(v int) Iterator[int] {
		return Of(v, v*10)
	}))
	if err != nil {
		t.Fatalf("FlatMap failed: %v", err)
	}
	expected := []int{1, 10, 2, 20}
	if fmt.Sprint(out) != fmt.Sprint(expected) {
		t.Errorf("Expected %v, got %v", expected, out)
	}
}

func TestMerge_PreservesPerSourceOrder(t *testing.T) {
	out, err := Collect(Merge(Of(1, 2, 3), Of(10, 20)))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("Expected 5 elements, got %d", len(out))
	}
	// Per-source order must hold regardless of interleaving
	var a, b []int
	for _, v := range out {
		if v < 10 {
			a = append(a, v)
		} else {
			b = append(b, v)
		}
	}
	if fmt.Sprint(a) != fmt.Sprint([]int{1, 2, 3}) {
		t.Errorf("First source out of order: %v", a)
	}
	if fmt.Sprint(b) != fmt.Sprint([]int{10, 20}) {
		t.Errorf("Second source out of order: %v", b)
	}
}

func TestSkipLimit(t *testing.T) {
	out, err := Collect(Limit(Skip(From([]int{1, 2, 3, 4, 5}), 1), 2))
	if err != nil {
		t.Fatalf("Skip/Limit failed: %v", err)
	}
	if fmt.Sprint(out) != fmt.Sprint([]int{2, 3}) {
		t.Errorf("Expected [2 3], got %v", out)
	}
}

func TestLimit_StopsPulling(t *testing.T) {
	pulls := 0
	src := FromFunc(func() (int, bool, error) {
		pulls++
		return pulls, true, nil
	})
	if _, err := Collect(Limit(src, 3)); err != nil {
		t.Fatalf("Limit failed: %v", err)
	}
	if pulls != 3 {
		t.Errorf("Expected 3 pulls from an infinite source, got %d", pulls)
	}
}

func TestClose_PropagatesUpstream(t *testing.T) {
	closed := false
	src := FromFuncWithClose(func() (int, bool, error) {
		return 1, true, nil
	}, func() error {
		closed = true
		return nil
	})
	wrapped := Limit(Map(src, func(v int) (int, error) { return v, nil }), 2)
	if _, err := Collect(wrapped); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !closed {
		t.Error("Expected Close to propagate to the source")
	}
}

func TestForEach_StopsOnError(t *testing.T) {
	stop := errors.New("stop")
	count := 0
	err := ForEach(Of(1, 2, 3), func(int) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("Expected stop error, got %v", err)
	}
	if count != 2 {
		t.Errorf("Expected consumption to stop after 2 elements, got %d", count)
	}
}
