// Package refiner turns an eICR and its reportability response into one
// refined eICR per reportable condition the case matches.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/refiner/internal/platform/ccda"
	"github.com/ehr/refiner/internal/platform/telemetry"
	"github.com/ehr/refiner/internal/refiner/codeset"
	"github.com/ehr/refiner/internal/refiner/reportability"
	"github.com/ehr/refiner/internal/refiner/section"
)

// Options tunes a Refiner.
type Options struct {
	// Workers bounds the number of condition passes run at once.
	Workers int
	// Scope is the element names searched for codes. Defaults to
	// codeset.DefaultScope.
	Scope []string
}

// Refiner runs the refinement pipeline. A Refiner is safe for concurrent use.
type Refiner struct {
	lookup  ConditionLookup
	opts    Options
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a Refiner backed by lookup.
func New(lookup ConditionLookup, opts Options, logger zerolog.Logger, metrics *telemetry.Metrics) *Refiner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if len(opts.Scope) == 0 {
		opts.Scope = codeset.DefaultScope
	}
	return &Refiner{lookup: lookup, opts: opts, logger: logger, metrics: metrics}
}

// pass is the shared, read-only input of every condition pass in a call.
type pass struct {
	eicr      *ccda.Document
	rr        *ccda.Document
	baseline  int
	scope     []string
	processor *section.Processor
	req       Request
}

// Refine parses both documents, resolves the RR's trigger codes to
// conditions and refines the eICR once per condition. Results are ordered by
// condition ID. A failed condition pass is logged and omitted; it does not
// fail the call.
func (r *Refiner) Refine(ctx context.Context, req Request) ([]RefinedDocument, error) {
	start := time.Now()
	docs, err := r.refine(ctx, req)
	r.metrics.ObserveRefineDuration(time.Since(start))
	r.metrics.RefineRequest(outcome(err))
	return docs, err
}

func (r *Refiner) refine(ctx context.Context, req Request) ([]RefinedDocument, error) {
	scope := r.opts.Scope
	if len(req.Scope) > 0 {
		scope = req.Scope
	}
	// Validate the scope once so a bad parameter fails the call rather than
	// every condition pass.
	if _, err := codeset.BuildPredicate(codeset.New(), scope); err != nil {
		return nil, err
	}

	eicr, err := ccda.ParseString(req.EICR)
	if err != nil {
		return nil, &DocumentParseError{Document: "eicr", Err: err}
	}
	rr, err := ccda.ParseString(req.RR)
	if err != nil {
		return nil, &DocumentParseError{Document: "rr", Err: err}
	}

	triggers := reportability.Extract(rr)
	if len(triggers) == 0 {
		r.logger.Info().Str("jurisdiction", req.Jurisdiction).Msg("no reportable conditions in RR")
		return []RefinedDocument{}, nil
	}

	matched, err := r.resolve(ctx, req.Jurisdiction, triggers)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		r.logger.Info().
			Str("jurisdiction", req.Jurisdiction).
			Strs("codes", triggers).
			Msg("no configured condition for trigger codes")
		return []RefinedDocument{}, nil
	}

	table, err := r.lookup.SectionPolicies(ctx, req.Jurisdiction)
	if err != nil {
		return nil, fmt.Errorf("load section policies: %w", err)
	}

	p := &pass{
		eicr:      eicr,
		rr:        rr,
		baseline:  len(eicr.String()),
		scope:     scope,
		processor: section.NewProcessor(table, r.logger, r.metrics).WithForce(req.ForceSections),
		req:       req,
	}

	slots := make([]*RefinedDocument, len(matched))
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)
	for i := range matched {
		i := i
		mc := &matched[i]
		g.Go(func() error {
			doc, err := r.safeRefineCondition(ctx, p, mc)
			if err != nil {
				r.logger.Error().Err(err).
					Str("condition", mc.Condition.ID).
					Str("jurisdiction", req.Jurisdiction).
					Msg("condition pass failed")
				r.metrics.ConditionFailed(mc.Condition.ID)
				return nil
			}
			slots[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]RefinedDocument, 0, len(slots))
	for _, doc := range slots {
		if doc != nil {
			out = append(out, *doc)
		}
	}
	return out, nil
}

// resolve looks up the conditions for triggers, drops those without a
// trigger overlap and returns one entry per condition ID, sorted by ID.
func (r *Refiner) resolve(ctx context.Context, jurisdiction string, triggers []string) ([]MatchedCondition, error) {
	conds, err := r.lookup.ConditionsByTriggerCodes(ctx, jurisdiction, triggers)
	if err != nil {
		return nil, fmt.Errorf("resolve conditions: %w", err)
	}

	byID := make(map[string]*MatchedCondition, len(conds))
	for _, c := range conds {
		overlap := c.TriggerOverlap(triggers)
		if len(overlap) == 0 {
			continue
		}
		if prev, ok := byID[c.ID]; ok {
			prev.TriggerCodes = mergeSorted(prev.TriggerCodes, overlap)
			continue
		}
		byID[c.ID] = &MatchedCondition{Condition: c, TriggerCodes: overlap}
	}

	matched := make([]MatchedCondition, 0, len(byID))
	for _, mc := range byID {
		matched = append(matched, *mc)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Condition.ID < matched[j].Condition.ID
	})
	return matched, nil
}

// safeRefineCondition turns a panic in a condition pass into an error so one
// bad condition cannot take the process down.
func (r *Refiner) safeRefineCondition(ctx context.Context, p *pass, mc *MatchedCondition) (doc *RefinedDocument, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("condition pass panicked: %v", v)
		}
	}()
	return r.refineCondition(ctx, p, mc)
}

// refineCondition runs one isolated pass: it works on its own clones of
// both documents.
func (r *Refiner) refineCondition(ctx context.Context, p *pass, mc *MatchedCondition) (*RefinedDocument, error) {
	id := mc.Condition.ID
	log := r.logger.With().Str("condition", id).Logger()

	custom, err := r.lookup.CustomCodeSources(ctx, p.req.Jurisdiction, id)
	if err != nil {
		return nil, fmt.Errorf("custom codes: %w", err)
	}

	res := codeset.Compile(append(mc.Condition.Sources(), custom...)...)
	for _, rej := range res.Rejected {
		log.Warn().Str("source", rej.Source).Int("index", rej.Index).Msg("dropped code entry: " + rej.Reason)
		r.metrics.CodesRejected(rej.Source, 1)
	}
	set := res.Set
	for _, code := range mc.TriggerCodes {
		set.Add(codeset.Code{Code: code, System: ccda.OIDSNOMED})
	}
	mc.Set = set

	q, err := codeset.BuildPredicate(set, p.scope)
	if err != nil {
		return nil, err
	}

	eicr := p.eicr.Clone()
	minimal := section.MinimalContext{
		ConditionCode: id,
		DisplayName:   mc.Condition.DisplayName,
		TriggerCodes:  mc.TriggerCodes,
	}
	for _, sec := range eicr.Sections() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := p.processor.Process(sec, q, minimal); err != nil {
			return nil, err
		}
	}

	rr := p.rr.Clone()
	reportability.FilterForCondition(rr, mc.TriggerCodes)

	refined := eicr.String()
	doc := &RefinedDocument{
		ConditionCode:    id,
		DisplayName:      mc.Condition.DisplayName,
		RefinedEICR:      refined,
		RefinedRR:        rr.String(),
		SizeDeltaPercent: SizeDelta(p.baseline, len(refined)),
	}

	r.metrics.DocumentRefined(id, doc.SizeDeltaPercent)
	log.Debug().
		Int("codes", set.Len()).
		Strs("triggers", mc.TriggerCodes).
		Int("size_delta_percent", doc.SizeDeltaPercent).
		Msg("condition refined")
	return doc, nil
}

func outcome(err error) string {
	var dpe *DocumentParseError
	var ive *codeset.InputValidationError
	switch {
	case err == nil:
		return telemetry.OutcomeOK
	case errors.As(err, &dpe):
		return telemetry.OutcomeParseError
	case errors.As(err, &ive):
		return telemetry.OutcomeInvalidInput
	}
	return telemetry.OutcomeError
}

func mergeSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
