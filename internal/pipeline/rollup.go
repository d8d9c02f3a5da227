package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/werserk/kira/internal/bus"
	"github.com/werserk/kira/internal/clock"
	"github.com/werserk/kira/internal/logging"
	"github.com/werserk/kira/internal/types"
	"github.com/werserk/kira/internal/vault"
)

// Section is one plugin contribution to a rollup.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SectionProvider contributes sections for a period. Providers are the
// registered-aggregator side of the rollup.requested event: the event is
// published for observation, and registered providers return their sections
// directly to the pipeline.
type SectionProvider func(rollupType types.RollupType, periodStart, periodEnd time.Time) []Section

// Rollup composes periodic aggregation entities through the single writer.
// Thin orchestration only: providers generate the content.
type Rollup struct {
	vault     *vault.Store
	bus       *bus.Bus
	clock     clock.Clock
	log       *logging.Logger
	providers []SectionProvider
}

// NewRollup builds the rollup pipeline.
func NewRollup(v *vault.Store, b *bus.Bus, c clock.Clock, log *logging.Logger) *Rollup {
	return &Rollup{vault: v, bus: b, clock: c, log: log}
}

// RegisterProvider adds a section provider. Providers run in registration
// order on every rollup generation.
func (p *Rollup) RegisterProvider(sp SectionProvider) {
	p.providers = append(p.providers, sp)
}

// CreateDaily generates the rollup for the given date.
func (p *Rollup) CreateDaily(date time.Time) (*types.Entity, error) {
	start := date.UTC().Truncate(24 * time.Hour)
	return p.generate(types.RollupDaily, start, start)
}

// CreateWeekly generates the rollup for the ISO week containing date.
func (p *Rollup) CreateWeekly(date time.Time) (*types.Entity, error) {
	d := date.UTC().Truncate(24 * time.Hour)
	// Roll back to Monday.
	offset := (int(d.Weekday()) + 6) % 7
	start := d.AddDate(0, 0, -offset)
	return p.generate(types.RollupWeekly, start, start.AddDate(0, 0, 6))
}

// CreateMonthly generates the rollup for the month containing date.
func (p *Rollup) CreateMonthly(date time.Time) (*types.Entity, error) {
	d := date.UTC()
	start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return p.generate(types.RollupMonthly, start, end)
}

func (p *Rollup) generate(rollupType types.RollupType, periodStart, periodEnd time.Time) (*types.Entity, error) {
	traceID := uuid.NewString()

	if p.bus != nil {
		p.bus.Publish("rollup.requested", map[string]any{
			"rollup_type":  string(rollupType),
			"period_start": periodStart.Format("2006-01-02"),
			"period_end":   periodEnd.Format("2006-01-02"),
			"trace_id":     traceID,
		}, traceID)
	}

	var sections []Section
	for _, provider := range p.providers {
		sections = append(sections, provider(rollupType, periodStart, periodEnd)...)
	}

	title := rollupTitle(rollupType, periodStart, periodEnd)
	body := composeRollupBody(title, sections)

	entity, err := p.vault.Create(types.EntityRollup, map[string]any{
		"title":        title,
		"rollup_type":  string(rollupType),
		"period_start": periodStart.Format("2006-01-02"),
		"period_end":   periodEnd.Format("2006-01-02"),
		"sections_count": int64(len(sections)),
	}, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create rollup entity: %w", err)
	}

	if p.log != nil {
		p.log.Info("rollup created", map[string]any{
			"entity_id":      entity.ID,
			"rollup_type":    string(rollupType),
			"sections_count": len(sections),
			"trace_id":       traceID,
		})
	}
	return entity, nil
}

func rollupTitle(rollupType types.RollupType, periodStart, periodEnd time.Time) string {
	switch rollupType {
	case types.RollupDaily:
		return "Daily Rollup " + periodStart.Format("2006-01-02")
	case types.RollupWeekly:
		return fmt.Sprintf("Weekly Rollup %s to %s",
			periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
	case types.RollupMonthly:
		return "Monthly Rollup " + periodStart.Format("2006-01")
	default:
		return "Rollup " + periodStart.Format("2006-01-02")
	}
}

func composeRollupBody(title string, sections []Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n# %s\n", title)
	if len(sections) == 0 {
		b.WriteString("\nNo contributions for this period.\n")
		return b.String()
	}
	for _, s := range sections {
		sectionTitle := s.Title
		if sectionTitle == "" {
			sectionTitle = "Untitled Section"
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", sectionTitle, strings.TrimSpace(s.Content))
	}
	return b.String()
}
