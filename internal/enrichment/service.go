package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/greenshelf/strainscan/internal/cache"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/providers"
)

// DefaultStageTimeout bounds every individual inference call
const DefaultStageTimeout = 30 * time.Second

// DefaultTemperature is the primary-stage sampling temperature
const DefaultTemperature = 0.1

// ErrEmptyRequest is returned when a request carries neither images nor text
var ErrEmptyRequest = errors.New("request has no images and no text")

// Progress phases
const (
	PhaseCapture        = "capture"
	PhaseAnalysis       = "analysis"
	PhaseDuplicateCheck = "duplicate_check"
	PhaseGeneration     = "generation"
)

// Event is one progress notification emitted while a request is enriched
type Event struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// Request is the input to the pipeline
type Request struct {
	Images     []providers.Image
	Text       string
	Source     models.Source
	OperatorID string
	// Progress, when set, receives ordered phase events. It must not block.
	Progress func(Event)
}

// Result is the pipeline output
type Result struct {
	Record    *models.ProductRecord `json:"record"`
	Duplicate bool                  `json:"duplicate"`
}

// PipelineError reports a total primary-stage failure. Fallback is always set.
type PipelineError struct {
	Err      error
	Fallback *models.ProductRecord
}

func (e *PipelineError) Error() string {
	return "identification failed: " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Recorder is the durable catalog insert consumed by the pipeline
type Recorder interface {
	Insert(ctx context.Context, operatorID string, rec *models.ProductRecord) error
}

// Options configures a Service
type Options struct {
	Model string
	// Temperature applies to the primary stage; secondary stages run 0.1 warmer
	Temperature  float64
	StageTimeout time.Duration
	Cache        cache.Cache
	Catalog      Recorder
	Logger       *slog.Logger
}

// Service runs the identification and enrichment pipeline
type Service struct {
	provider     providers.Provider
	model        string
	temperature  float64
	stageTimeout time.Duration
	cache        cache.Cache
	catalog      Recorder
	logger       *slog.Logger
	now          func() time.Time
}

// New constructs a Service around provider
func New(provider providers.Provider, opts Options) *Service {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = DefaultStageTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	return &Service{
		provider:     provider,
		model:        opts.Model,
		temperature:  opts.Temperature,
		stageTimeout: opts.StageTimeout,
		cache:        opts.Cache,
		catalog:      opts.Catalog,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// Enrich turns a capture or query into a validated ProductRecord.
// Only a total primary failure on image-only input returns an error, and that
// error is a *PipelineError carrying a displayable fallback record.
func (s *Service) Enrich(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Text)
	if len(req.Images) == 0 && query == "" {
		return nil, ErrEmptyRequest
	}
	if !req.Source.Valid() {
		req.Source = models.SourceText
		if len(req.Images) > 0 {
			req.Source = models.SourceImage
		}
	}
	emit := req.Progress
	if emit == nil {
		emit = func(Event) {}
	}
	logger := s.logger.With("source", req.Source, "operator_id", req.OperatorID)

	emit(Event{Phase: PhaseCapture, Message: captureMessage(req)})

	// Primary extraction
	emit(Event{Phase: PhaseAnalysis, Message: "Identifying strain"})
	primary := invoke(ctx, s, providers.Config{
		Model:        s.model,
		Temperature:  s.temperature,
		SystemPrompt: systemPrompt,
		Prompt:       primaryPrompt(query, len(req.Images) > 0),
		Images:       req.Images,
		JSON:         true,
	}, decodePrimary)

	var fields primaryFields
	if primary.OK() {
		fields = validate(primary.Value)
	} else {
		logger.Warn("Primary extraction failed, using fallback", "outcome", primary.Kind, "err", primary.Err)
		fields = fallbackFields(query)
	}

	if !primary.OK() && query == "" {
		rec := s.assemble(fields, req, synthesize(terpeneTable, nil, defaultTerpenes), synthesize(effectTable, nil, defaultEffects))
		ApplyPotency(rec)
		return nil, &PipelineError{Err: fmt.Errorf("primary stage %s: %w", primary.Kind, primary.Err), Fallback: rec}
	}

	// Deterministic override on the settled name
	rec := s.assemble(fields, req, nil, nil)
	ApplyPotency(rec)

	key := cache.CacheKey(rec.Name)
	emit(Event{Phase: PhaseDuplicateCheck, Message: fmt.Sprintf("Checking catalog for %s", rec.Name)})
	if existing := s.lookupDuplicate(ctx, logger, key); existing != nil {
		if req.OperatorID != "" {
			existing.OperatorID = req.OperatorID
			s.record(ctx, logger, req.OperatorID, existing)
		}
		return &Result{Record: existing, Duplicate: true}, nil
	}

	emit(Event{Phase: PhaseGeneration, Message: "Profiling terpenes and effects"})
	var complete bool
	rec.Terpenes, rec.Effects, complete = s.secondary(ctx, logger, fields)

	// Persistence is best-effort. Only records built from real model answers
	// are cached, since the cache answers later duplicate checks.
	switch {
	case s.cache == nil:
	case !primary.OK() || !complete:
		logger.Info("Record built from fallbacks, not caching", "key", key, "primary", primary.Kind)
	default:
		if err := s.cache.Upsert(ctx, key, rec); err != nil {
			logger.Error("Unable to cache record", "key", key, "err", err)
		}
	}
	if req.OperatorID != "" {
		s.record(ctx, logger, req.OperatorID, rec)
	}

	logger.Info("Record enriched", "name", rec.Name, "type", rec.Type, "thc", rec.THC, "confidence", rec.Confidence)
	return &Result{Record: rec}, nil
}

func (s *Service) lookupDuplicate(ctx context.Context, logger *slog.Logger, key string) *models.ProductRecord {
	if s.cache == nil {
		return nil
	}
	existing, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Duplicate check failed, treating as miss", "key", key, "err", err)
		return nil
	}
	if !ok || existing == nil {
		return nil
	}
	logger.Info("Duplicate record found", "key", key)
	return existing.Clone()
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, operatorID string, rec *models.ProductRecord) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Insert(ctx, operatorID, rec); err != nil {
		logger.Error("Unable to insert record into catalog", "name", rec.Name, "err", err)
	}
}

// secondary runs the terpene and effect stages concurrently. Each stage has
// its own fallback so neither can fail the other. complete is false when
// either list was synthesized.
func (s *Service) secondary(ctx context.Context, logger *slog.Logger, fields primaryFields) (terpenes, effects []models.SecondaryAttribute, complete bool) {
	var g errgroup.Group
	var terpenesOK, effectsOK bool
	g.Go(func() error {
		terpenes, terpenesOK = s.secondaryStage(ctx, logger, "terpenes", terpeneTable,
			terpenePrompt(fields.Name, fields.Type, fields.Terpenes), fields.Terpenes, defaultTerpenes)
		return nil
	})
	g.Go(func() error {
		effects, effectsOK = s.secondaryStage(ctx, logger, "effects", effectTable,
			effectPrompt(fields.Name, fields.Type, fields.Effects), fields.Effects, defaultEffects)
		return nil
	})
	_ = g.Wait()
	return terpenes, effects, terpenesOK && effectsOK
}

// secondaryStage returns the decoded list, or a synthesized one and false
func (s *Service) secondaryStage(ctx context.Context, logger *slog.Logger, stage string, table map[string]attributeInfo, prompt string, hints, defaults []string) ([]models.SecondaryAttribute, bool) {
	out := invoke(ctx, s, providers.Config{
		Model:        s.model,
		Temperature:  s.temperature + 0.1,
		SystemPrompt: systemPrompt,
		Prompt:       prompt,
		JSON:         true,
	}, decodeAttributes)
	if out.OK() {
		if attrs := finishAttributes(table, out.Value); len(attrs) > 0 {
			return attrs, true
		}
	}
	logger.Warn("Secondary stage failed, synthesizing", "stage", stage, "outcome", out.Kind, "err", out.Err)
	return synthesize(table, hints, defaults), false
}

func (s *Service) assemble(f primaryFields, req Request, terpenes, effects []models.SecondaryAttribute) *models.ProductRecord {
	return &models.ProductRecord{
		ID:          uuid.NewString(),
		Name:        f.Name,
		Type:        models.StrainType(f.Type),
		Confidence:  f.Confidence,
		THC:         f.THC,
		CBD:         f.CBD,
		Lineage:     f.Lineage,
		Flavors:     f.Flavors,
		Terpenes:    terpenes,
		Effects:     effects,
		Description: f.Description,
		Source:      req.Source,
		OperatorID:  req.OperatorID,
		CreatedAt:   s.now().UTC(),
	}
}

func captureMessage(req Request) string {
	switch {
	case len(req.Images) == 1:
		return "Received 1 image"
	case len(req.Images) > 1:
		return fmt.Sprintf("Received %d images", len(req.Images))
	case req.Source == models.SourceVoice:
		return "Received voice transcript"
	}
	return "Received text query"
}
