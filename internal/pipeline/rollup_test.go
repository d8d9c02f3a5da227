package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/werserk/kira/internal/bus"
	"github.com/werserk/kira/internal/testutil"
	"github.com/werserk/kira/internal/types"
)

func TestDailyRollupEmptyPlaceholder(t *testing.T) {
	h := testutil.NewVault(t)
	p := NewRollup(h.Vault, h.Bus, h.Clock, nil)

	entity, err := p.CreateDaily(time.Date(2025, 1, 15, 13, 45, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CreateDaily failed: %v", err)
	}
	if entity.Title != "Daily Rollup 2025-01-15" {
		t.Errorf("title = %q", entity.Title)
	}
	if entity.MetaString("period_start") != "2025-01-15" || entity.MetaString("period_end") != "2025-01-15" {
		t.Errorf("period = %q..%q", entity.MetaString("period_start"), entity.MetaString("period_end"))
	}
	if n, _ := entity.Metadata["sections_count"].(int64); n != 0 {
		t.Errorf("sections_count = %v", entity.Metadata["sections_count"])
	}
	if !strings.Contains(entity.Body, "No contributions for this period.") {
		t.Errorf("placeholder body missing: %q", entity.Body)
	}
}

func TestRollupCollectsProviderSections(t *testing.T) {
	h := testutil.NewVault(t)
	p := NewRollup(h.Vault, h.Bus, h.Clock, nil)

	var requested []bus.Event
	h.Bus.Subscribe("rollup.requested", func(e bus.Event) error {
		requested = append(requested, e)
		return nil
	})
	p.RegisterProvider(func(rt types.RollupType, start, end time.Time) []Section {
		return []Section{{Title: "Tasks", Content: "3 tasks completed"}}
	})
	p.RegisterProvider(func(rt types.RollupType, start, end time.Time) []Section {
		return []Section{{Title: "Calendar", Content: "2 meetings"}}
	})

	entity, err := p.CreateDaily(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CreateDaily failed: %v", err)
	}
	if len(requested) != 1 {
		t.Errorf("rollup.requested events = %d", len(requested))
	}
	if n, _ := entity.Metadata["sections_count"].(int64); n != 2 {
		t.Errorf("sections_count = %v", entity.Metadata["sections_count"])
	}
	if !strings.Contains(entity.Body, "## Tasks") || !strings.Contains(entity.Body, "## Calendar") {
		t.Errorf("sections missing from body:\n%s", entity.Body)
	}
}

func TestWeeklyRollupBounds(t *testing.T) {
	h := testutil.NewVault(t)
	p := NewRollup(h.Vault, h.Bus, h.Clock, nil)

	// 2025-01-15 is a Wednesday; the week runs Mon 13th to Sun 19th.
	entity, err := p.CreateWeekly(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CreateWeekly failed: %v", err)
	}
	if entity.Title != "Weekly Rollup 2025-01-13 to 2025-01-19" {
		t.Errorf("title = %q", entity.Title)
	}
}

func TestMonthlyRollupBounds(t *testing.T) {
	h := testutil.NewVault(t)
	p := NewRollup(h.Vault, h.Bus, h.Clock, nil)

	entity, err := p.CreateMonthly(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CreateMonthly failed: %v", err)
	}
	if entity.Title != "Monthly Rollup 2025-02" {
		t.Errorf("title = %q", entity.Title)
	}
	if entity.MetaString("period_end") != "2025-02-28" {
		t.Errorf("period_end = %q", entity.MetaString("period_end"))
	}
}
