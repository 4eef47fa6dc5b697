// Package service orchestrates the evaluation path: period selection, debt
// service, ratio computation, validation and audit-proof export.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"covenant/internal/analysis/debtservice"
	analysismetrics "covenant/internal/analysis/metrics"
	"covenant/internal/analysis/models"
	"covenant/internal/analysis/period"
	"covenant/internal/analysis/ratios"
	"covenant/internal/analysis/snapshot"
	"covenant/internal/analysis/store"
	"covenant/internal/auditproof"
	"covenant/internal/canonical"
	registrymodels "covenant/internal/registry/models"
	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/requestcontext"
)

const tracerName = "covenant/analysis"

// Registry is the slice of registry governance the evaluation path needs:
// which version binds a tenant, and which metric keys that version governs.
type Registry interface {
	ResolveBinding(ctx context.Context, bankID *id.BankID) (*registrymodels.Binding, error)
	MetricKeys(ctx context.Context, versionID id.VersionID) ([]string, error)
}

// BuildRequest parameterizes one snapshot build.
type BuildRequest struct {
	DealID   id.DealID
	BankID   *id.BankID
	Strategy period.Strategy
	// PeriodID is required when Strategy is Explicit.
	PeriodID string
	// BusinessModel overrides inference when the caller knows the borrower.
	BusinessModel snapshot.BusinessModel
}

// Result is a built snapshot plus its pre-render validation and, when proof
// export is wired, the signed audit record.
type Result struct {
	Snapshot   *snapshot.CreditSnapshot `json:"snapshot"`
	Validation snapshot.Report          `json:"validation"`
	Proof      *auditproof.Record       `json:"proof,omitempty"`
}

// Service builds credit snapshots.
type Service struct {
	registry Registry
	facts    store.FactStore

	proofs    auditproof.Store
	signer    *auditproof.Signer
	publisher audit.Publisher
	metrics   *analysismetrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *analysismetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProofExport wires signed audit-proof export. Without it, BuildSnapshot
// still computes and validates but exports nothing.
func WithProofExport(proofs auditproof.Store, signer *auditproof.Signer) Option {
	return func(s *Service) {
		s.proofs = proofs
		s.signer = signer
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func New(registry Registry, facts store.FactStore, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		facts:    facts,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// IngestFacts stores a fresh fact delivery for a deal, replacing earlier ones.
func (s *Service) IngestFacts(ctx context.Context, dealID id.DealID, periods []*models.FinancialPeriod, instruments []*models.DebtInstrument) error {
	ctx, span := s.tracer.Start(ctx, "analysis.IngestFacts")
	defer span.End()

	for _, p := range periods {
		if p.PeriodID == "" {
			return dErrors.New(dErrors.CodeValidation, "every period needs a period_id")
		}
	}
	if err := s.facts.SavePeriods(ctx, dealID, periods); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store periods")
	}
	if err := s.facts.SaveInstruments(ctx, dealID, instruments); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store instruments")
	}
	return nil
}

// BuildSnapshot computes a fresh credit snapshot for a deal.
//
// The three reads (registry binding, periods, instruments) are independent
// and issued concurrently. Everything after the loads is pure computation:
// same facts, same binding, same snapshot.
func (s *Service) BuildSnapshot(ctx context.Context, req BuildRequest) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.BuildSnapshot")
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if req.DealID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "deal id is required")
	}
	if req.Strategy == "" {
		req.Strategy = period.LatestAvailable
	}

	var (
		binding     *registrymodels.Binding
		periods     []*models.FinancialPeriod
		instruments []*models.DebtInstrument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		binding, err = s.registry.ResolveBinding(gctx, req.BankID)
		return err
	})
	g.Go(func() error {
		var err error
		periods, err = s.facts.PeriodsForDeal(gctx, req.DealID)
		return err
	})
	g.Go(func() error {
		var err error
		instruments, err = s.facts.InstrumentsForDeal(gctx, req.DealID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load snapshot inputs")
	}

	selection := period.Select(periods, period.Options{Strategy: req.Strategy, PeriodID: req.PeriodID})

	snap := &snapshot.CreditSnapshot{
		DealID:      req.DealID,
		Binding:     binding,
		Selection:   selection,
		GeneratedAt: requestcontext.Now(ctx),
	}

	if selection.Period == nil {
		s.countBuild("no_period")
		snap.DebtService = models.DebtServiceResult{
			Diagnostics: models.DebtServiceDiagnostics{
				Source:            models.SourceInterestProxy,
				MissingComponents: []string{"period"},
			},
		}
		snap.Ratios = models.RatioBundle{}
		return &Result{Snapshot: snap, Validation: s.validate(ctx, snap, req.BusinessModel)}, nil
	}

	if len(instruments) > 0 {
		snap.DebtService = debtservice.ComputeFromPortfolio(instruments, selection.Period)
	} else {
		snap.DebtService = debtservice.ComputeForPeriod(periods, selection.Period.PeriodID)
	}

	snap.Ratios = ratios.ComputeCoreCreditMetrics(periods, selection.Period.PeriodID, snap.DebtService)
	s.observeUnresolved(snap.Ratios)
	s.countBuild("ok")

	result := &Result{Snapshot: snap, Validation: s.validate(ctx, snap, req.BusinessModel)}

	// Proof export needs a binding: a receipt attests which formulas produced
	// the outputs, and an unbound snapshot has no formulas to attest.
	if s.proofs != nil && s.signer != nil && binding != nil {
		proof, err := s.exportProof(ctx, snap)
		if err != nil {
			return nil, err
		}
		result.Proof = proof
	}

	s.logger.InfoContext(ctx, "snapshot built",
		"request_id", requestcontext.RequestID(ctx),
		"deal_id", req.DealID,
		"period_id", snap.Ratios.PeriodID,
		"valid", result.Validation.Valid,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// validate runs the pre-render gate. Applicable metric keys come from the
// bound registry version when there is one.
func (s *Service) validate(ctx context.Context, snap *snapshot.CreditSnapshot, businessModel snapshot.BusinessModel) snapshot.Report {
	if businessModel == "" {
		businessModel = snapshot.InferBusinessModel(snap.Selection.Period)
	}

	var applicable []string
	if snap.Binding != nil {
		keys, err := s.registry.MetricKeys(ctx, snap.Binding.VersionID)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to load registry metric keys for validation", "error", err)
		} else {
			applicable = keys
		}
	}

	report := snapshot.ValidateForRender(snap, businessModel, applicable)
	if !report.Valid && s.metrics != nil {
		s.metrics.ValidationErrors.Inc()
	}
	return report
}

// exportProof hashes the snapshot outputs, signs a receipt and persists the
// record. Export is fail-closed: a snapshot that cannot be proven is not
// returned as if it had been.
func (s *Service) exportProof(ctx context.Context, snap *snapshot.CreditSnapshot) (*auditproof.Record, error) {
	// Hash only the computed outputs: a replay under the same binding and
	// facts must reproduce this digest regardless of when it runs.
	outputHash, err := canonical.HashOutputs(map[string]any{
		"ratios":       snap.Ratios,
		"debt_service": snap.DebtService,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash snapshot outputs")
	}

	record := &auditproof.Record{
		ID:          id.ProofID(uuid.New()),
		DealID:      snap.DealID,
		PeriodID:    snap.Ratios.PeriodID,
		OutputHash:  outputHash,
		GeneratedAt: snap.GeneratedAt,
		VersionID:   snap.Binding.VersionID,
		ContentHash: snap.Binding.ContentHash,
	}

	receipt, err := s.signer.Sign(record, snap.GeneratedAt)
	if err != nil {
		return nil, err
	}
	record.Receipt = receipt

	if err := s.proofs.Save(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store audit proof")
	}

	if s.metrics != nil {
		s.metrics.ProofsExported.Inc()
	}
	if s.publisher != nil {
		event := audit.Event{
			Timestamp:   snap.GeneratedAt,
			Action:      string(audit.EventSnapshotExported),
			Actor:       requestcontext.Actor(ctx),
			RequestID:   requestcontext.RequestID(ctx),
			Reason:      "deal:" + snap.DealID.String(),
			VersionID:   record.VersionID.String(),
			ContentHash: record.ContentHash,
		}
		if err := s.publisher.Emit(ctx, event); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit trail write failed")
		}
	}
	return record, nil
}

// ProofsForDeal lists a deal's export records, verifying each receipt.
func (s *Service) ProofsForDeal(ctx context.Context, dealID id.DealID) ([]*auditproof.Record, error) {
	if s.proofs == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "audit proof export is not enabled")
	}
	records, err := s.proofs.ListByDeal(ctx, dealID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit proofs")
	}
	for _, record := range records {
		if err := s.signer.VerifyRecord(record); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored audit proof failed verification")
		}
	}
	return records, nil
}

func (s *Service) countBuild(outcome string) {
	if s.metrics != nil {
		s.metrics.SnapshotsBuilt.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) observeUnresolved(bundle models.RatioBundle) {
	if s.metrics == nil {
		return
	}
	for _, result := range bundle.Metrics {
		switch {
		case result.Diagnostics.DivideByZero:
			s.metrics.MetricsUnresolved.WithLabelValues("divide_by_zero").Inc()
		case len(result.Diagnostics.MissingInputs) > 0:
			s.metrics.MetricsUnresolved.WithLabelValues("missing_inputs").Inc()
		}
	}
}
