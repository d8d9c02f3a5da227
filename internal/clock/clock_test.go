package clock

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	f := NewFake(start)
	if !f.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", f.Now(), start)
	}
	f.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !f.Now().Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", f.Now(), want)
	}
}

func TestMintIDFormat(t *testing.T) {
	f := NewFake(time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC))
	id, err := MintID(f, "task", nil)
	if err != nil {
		t.Fatalf("MintID failed: %v", err)
	}
	pattern := regexp.MustCompile(`^task-20250115-0930-[0-9a-f]{4}$`)
	if !pattern.MatchString(id) {
		t.Errorf("id %q does not match the expected form", id)
	}
}

func TestMintIDProbesOnCollision(t *testing.T) {
	f := NewFake(time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC))
	taken := make(map[string]bool)
	first, err := MintID(f, "task", func(string) bool { return false })
	if err != nil {
		t.Fatalf("MintID failed: %v", err)
	}
	taken[first] = true

	calls := 0
	second, err := MintID(f, "task", func(id string) bool {
		calls++
		// Force one collision, then accept.
		return calls == 1
	})
	if err != nil {
		t.Fatalf("MintID failed: %v", err)
	}
	if calls < 2 {
		t.Errorf("expected a retry after collision, probe calls = %d", calls)
	}
	if !strings.HasPrefix(second, "task-20250115-0930-") {
		t.Errorf("id %q lost its stamp on retry", second)
	}
}

func TestMintIDExhaustion(t *testing.T) {
	f := NewFake(time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC))
	_, err := MintID(f, "task", func(string) bool { return true })
	if err == nil {
		t.Error("expected an error when every candidate collides")
	}
}
