package proc

import (
	"errors"
	"testing"

	"github.com/vmsearch/shenango/pkg/eth"
	"github.com/vmsearch/shenango/pkg/lrpc"
)

func testThreads(t *testing.T, n int) []Thread {
	t.Helper()
	threads := make([]Thread, n)
	for i := range threads {
		_, out, err := lrpc.NewPair(8)
		if err != nil {
			t.Fatalf("NewPair: %v", err)
		}
		threads[i] = Thread{RxQ: out}
	}
	return threads
}

func TestNewValidation(t *testing.T) {
	good := eth.Addr{0x02, 0, 0, 0, 0, 0x01}
	tests := []struct {
		name    string
		mac     eth.Addr
		threads int
		wantErr bool
	}{
		{"valid", good, 2, false},
		{"single thread", good, 1, false},
		{"zero mac", eth.Addr{}, 1, true},
		{"multicast mac", eth.Addr{0x01, 0, 0x5e, 0, 0, 1}, 1, true},
		{"broadcast mac", eth.Broadcast, 1, true},
		{"no threads", good, 0, true},
		{"too many threads", good, MaxThreads + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(1, tt.mac, testThreads(t, tt.threads))
			if tt.wantErr && !errors.Is(err, ErrBadDescriptor) {
				t.Errorf("err = %v, want ErrBadDescriptor", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestTable(t *testing.T) {
	tbl := NewTable()
	p, err := New(7, eth.Addr{0x02, 0, 0, 0, 0, 0x01}, testThreads(t, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := tbl.Get(7); ok {
		t.Error("Get on empty table succeeded")
	}
	tbl.Put(p)
	got, ok := tbl.Get(7)
	if !ok || got != p {
		t.Errorf("Get = (%v, %v)", got, ok)
	}
	tbl.Delete(7)
	if _, ok := tbl.Get(7); ok {
		t.Error("Get after Delete succeeded")
	}
}
