package ringbuf

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPushAndSnapshot(t *testing.T) {
	var b Buf[int]
	b.Init(4)
	if got := b.Snapshot(); len(got) != 0 {
		t.Errorf("empty buffer snapshot: %v", got)
	}
	for i := 1; i <= 3; i++ {
		b.Push(i)
	}
	if got, want := b.Snapshot(), []int{1, 2, 3}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if b.Len() != 3 {
		t.Errorf("len: got: %d, want: 3", b.Len())
	}
}

func TestPushEvictsOldest(t *testing.T) {
	var b Buf[int]
	b.Init(4)
	for i := 1; i <= 10; i++ {
		b.Push(i)
	}
	if got, want := b.Snapshot(), []int{7, 8, 9, 10}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if b.Len() != 4 {
		t.Errorf("len: got: %d, want: 4", b.Len())
	}
}

func TestInitResets(t *testing.T) {
	var b Buf[string]
	b.Init(2)
	b.Push("a")
	b.Push("b")
	b.Init(2)
	if b.Len() != 0 {
		t.Errorf("reinitialised buffer not empty: %v", b.Snapshot())
	}
	b.Push("c")
	if got, want := b.Snapshot(), []string{"c"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestInitRejectsBadSizes(t *testing.T) {
	for _, sz := range []int{0, 1, 3, 6, -4} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Init(%d) did not panic", sz)
				}
			}()
			var b Buf[int]
			b.Init(sz)
		}()
	}
}

func TestWrapAround(t *testing.T) {
	// Push enough through a small buffer that head and tail wrap the index
	// space several times over.
	var b Buf[int]
	b.Init(2)
	for i := 0; i < 1000; i++ {
		b.Push(i)
	}
	if got, want := b.Snapshot(), []int{998, 999}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}
