package section

import (
	"fmt"

	"github.com/antchfx/xmlquery"
	"github.com/rs/zerolog"

	"github.com/ehr/refiner/internal/platform/ccda"
	"github.com/ehr/refiner/internal/platform/telemetry"
	"github.com/ehr/refiner/internal/refiner/codeset"
)

// OutcomeKind names what happened to a section.
type OutcomeKind string

const (
	Kept          OutcomeKind = "kept"
	Filtered      OutcomeKind = "filtered"
	Emptied       OutcomeKind = "emptied"
	Removed       OutcomeKind = "removed"
	Synthesized   OutcomeKind = "synthesized"
	PassedThrough OutcomeKind = "passed_through"
)

// Outcome records the result of processing one section.
type Outcome struct {
	Code    string
	Kind    OutcomeKind
	Kept    int
	Dropped int
}

// Processor applies a PolicyTable to sections. It holds no per-call state
// and may be shared between goroutines.
type Processor struct {
	table   PolicyTable
	force   map[string]struct{}
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewProcessor creates a processor for table.
func NewProcessor(table PolicyTable, logger zerolog.Logger, metrics *telemetry.Metrics) *Processor {
	return &Processor{table: table, logger: logger, metrics: metrics}
}

// WithForce returns a copy of p that keeps the sections with the given codes
// whole, whatever their policy says.
func (p *Processor) WithForce(codes []string) *Processor {
	if len(codes) == 0 {
		return p
	}
	c := *p
	c.force = make(map[string]struct{}, len(codes)+len(p.force))
	for code := range p.force {
		c.force[code] = struct{}{}
	}
	for _, code := range codes {
		c.force[code] = struct{}{}
	}
	return &c
}

// Table returns the processor's policy table.
func (p *Processor) Table() PolicyTable {
	return p.table
}

// Process applies the section's policy to sec in place, using q to decide
// which entries are relevant and mc to build a synthesized placeholder.
func (p *Processor) Process(sec ccda.Section, q *codeset.StructuralQuery, mc MinimalContext) (Outcome, error) {
	out, err := p.process(sec, q, mc)
	if err != nil {
		return out, err
	}
	p.metrics.SectionOutcome(sec.Code, string(out.Kind))
	return out, nil
}

func (p *Processor) process(sec ccda.Section, q *codeset.StructuralQuery, mc MinimalContext) (Outcome, error) {
	entries := sec.Entries()
	out := Outcome{Code: sec.Code}

	if _, forced := p.force[sec.Code]; forced {
		out.Kind = Kept
		out.Kept = len(entries)
		return out, nil
	}

	policy, ok := p.table.Lookup(sec.Code)
	if !ok {
		p.logger.Warn().
			Str("section", sec.Code).
			Str("condition", mc.ConditionCode).
			Str("title", sec.Title).
			Msg("no policy for section, passing through")
		p.metrics.UnknownSection(sec.Code)
		out.Kind = PassedThrough
		out.Kept = len(entries)
		return out, nil
	}

	switch policy.Action {
	case KeepAll:
		out.Kind = Kept
		out.Kept = len(entries)

	case Remove:
		sec.Detach()
		out.Kind = Removed
		out.Dropped = len(entries)

	case SynthesizeMinimal:
		if err := synthesize(sec.Node, policy.MinimalFields(), mc); err != nil {
			return out, fmt.Errorf("section %s: synthesize: %w", sec.Code, err)
		}
		out.Kind = Synthesized
		out.Dropped = len(entries)

	case KeepMatching:
		var kept []*xmlquery.Node
		for _, e := range entries {
			if q.Matches(e) {
				kept = append(kept, e)
				continue
			}
			xmlquery.RemoveFromTree(e)
			out.Dropped++
		}
		out.Kept = len(kept)
		switch {
		case out.Kept > 0 && out.Dropped == 0:
			out.Kind = Kept
		case out.Kept > 0:
			if err := rebuildNarrative(sec.Node, kept, q, mc); err != nil {
				return out, fmt.Errorf("section %s: narrative: %w", sec.Code, err)
			}
			out.Kind = Filtered
		case policy.Required:
			if err := synthesize(sec.Node, policy.MinimalFields(), mc); err != nil {
				return out, fmt.Errorf("section %s: synthesize: %w", sec.Code, err)
			}
			out.Kind = Synthesized
		default:
			if text := ccda.FirstChildElement(sec.Node, "text"); text != nil {
				ccda.RemoveChildren(text)
			}
			out.Kind = Emptied
		}

	default:
		return out, &ConfigurationInconsistencyError{
			Section: policy.Name, Code: policy.Code,
			Message: fmt.Sprintf("unknown action %q", policy.Action),
		}
	}

	p.logger.Debug().
		Str("section", sec.Code).
		Str("condition", mc.ConditionCode).
		Str("outcome", string(out.Kind)).
		Int("kept", out.Kept).
		Int("dropped", out.Dropped).
		Msg("section processed")
	return out, nil
}
