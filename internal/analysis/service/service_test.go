package service

//go:generate mockgen -source=../../../pkg/platform/audit/models.go -destination=../../../pkg/platform/audit/mocks/mocks.go -package=mocks Publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"covenant/internal/analysis/models"
	"covenant/internal/analysis/period"
	"covenant/internal/analysis/snapshot"
	analysisstore "covenant/internal/analysis/store"
	"covenant/internal/auditproof"
	registryservice "covenant/internal/registry/service"
	registrystore "covenant/internal/registry/store"
	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/platform/audit/mocks"
	"covenant/pkg/requestcontext"
)

type AnalysisSuite struct {
	suite.Suite
	registry *registryservice.Service
	facts    *analysisstore.InMemory
	proofs   *auditproof.MemoryStore
	signer   *auditproof.Signer
	svc      *Service
	ctx      context.Context
	now      time.Time
	dealID   id.DealID
}

func (s *AnalysisSuite) SetupTest() {
	mem := registrystore.NewInMemory()
	s.registry = registryservice.New(mem, mem, mem)
	s.facts = analysisstore.NewInMemory()
	s.proofs = auditproof.NewMemoryStore()
	s.signer = auditproof.NewSigner("test-key")
	s.svc = New(s.registry, s.facts, WithProofExport(s.proofs, s.signer))
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.dealID = id.DealID(uuid.New())
}

func TestAnalysisSuite(t *testing.T) {
	suite.Run(t, new(AnalysisSuite))
}

func (s *AnalysisSuite) healthyPeriods() []*models.FinancialPeriod {
	return []*models.FinancialPeriod{
		{
			PeriodID: "fy-2023", PeriodEnd: "2023-12-31", Type: models.PeriodFYE, Months: 12,
			Income: models.IncomeFacts{
				Revenue:   models.Present(2000000),
				EBITDA:    models.Present(400000),
				NetIncome: models.Present(150000),
				Interest:  models.Present(120000),
			},
			Balance: models.BalanceFacts{
				Cash:               models.Present(250000),
				AccountsReceivable: models.Present(180000),
				Inventory:          models.Present(90000),
				ShortTermDebt:      models.Present(200000),
				LongTermDebt:       models.Present(800000),
			},
		},
		{PeriodID: "ttm-2024h1", PeriodEnd: "2024-06-30", Type: models.PeriodTTM, Months: 12},
	}
}

func (s *AnalysisSuite) publishRegistry() {
	v, err := s.registry.CreateVersion(s.ctx, "core ratios")
	s.Require().NoError(err)
	_, err = s.registry.AddEntry(s.ctx, v.ID, models.MetricDSCR,
		json.RawMessage(`{"formula":{"op":"divide","left":"ebitda","right":"totalDebtService"}}`))
	s.Require().NoError(err)
	_, err = s.registry.PublishVersion(s.ctx, v.ID)
	s.Require().NoError(err)
}

func (s *AnalysisSuite) TestBuildSnapshotHappyPath() {
	s.publishRegistry()
	s.Require().NoError(s.svc.IngestFacts(s.ctx, s.dealID, s.healthyPeriods(), nil))

	result, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{
		DealID:   s.dealID,
		Strategy: period.LatestFY,
	})
	s.Require().NoError(err)

	snap := result.Snapshot
	s.Require().NotNil(snap.Binding)
	s.NotEmpty(snap.Binding.ContentHash)
	s.Require().NotNil(snap.Selection.Period)
	s.Equal("fy-2023", snap.Selection.Period.PeriodID)
	s.Equal(s.now, snap.GeneratedAt)

	dscr := snap.Ratios.Metrics[models.MetricDSCR]
	s.InDelta(3.3333, dscr.Value.Float(), 0.0001)

	s.True(result.Validation.Valid)

	s.Require().NotNil(result.Proof)
	s.Equal(snap.Binding.VersionID, result.Proof.VersionID)
	s.Equal(snap.Binding.ContentHash, result.Proof.ContentHash)
	s.NotEmpty(result.Proof.OutputHash)
	s.NoError(s.signer.VerifyRecord(result.Proof))
}

func (s *AnalysisSuite) TestOutputHashIsReplayStable() {
	s.publishRegistry()
	s.Require().NoError(s.svc.IngestFacts(s.ctx, s.dealID, s.healthyPeriods(), nil))

	req := BuildRequest{DealID: s.dealID, Strategy: period.LatestFY}
	first, err := s.svc.BuildSnapshot(s.ctx, req)
	s.Require().NoError(err)

	laterCtx := requestcontext.WithTime(context.Background(), s.now.Add(48*time.Hour))
	second, err := s.svc.BuildSnapshot(laterCtx, req)
	s.Require().NoError(err)

	s.Equal(first.Proof.OutputHash, second.Proof.OutputHash)
	s.NotEqual(first.Proof.ID, second.Proof.ID)
}

func (s *AnalysisSuite) TestUnboundRegistryYieldsNilBindingAndNoProof() {
	s.Require().NoError(s.svc.IngestFacts(s.ctx, s.dealID, s.healthyPeriods(), nil))

	result, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{DealID: s.dealID, Strategy: period.LatestFY})
	s.Require().NoError(err)
	s.Nil(result.Snapshot.Binding)
	s.Nil(result.Proof)
	// Computation still ran against the facts.
	s.True(result.Snapshot.Ratios.Metrics[models.MetricDSCR].Value.Defined())
}

func (s *AnalysisSuite) TestNoMatchingPeriod() {
	s.publishRegistry()
	onlyTTM := []*models.FinancialPeriod{
		{PeriodID: "ttm", PeriodEnd: "2024-06-30", Type: models.PeriodTTM, Months: 12},
	}
	s.Require().NoError(s.svc.IngestFacts(s.ctx, s.dealID, onlyTTM, nil))

	result, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{DealID: s.dealID, Strategy: period.LatestFY})
	s.Require().NoError(err)
	s.Nil(result.Snapshot.Selection.Period)
	s.Empty(result.Snapshot.Ratios.Metrics)
	s.False(result.Validation.Valid)
	s.Contains(result.Snapshot.DebtService.Diagnostics.MissingComponents, "period")
}

func (s *AnalysisSuite) TestPortfolioPreferredOverProxy() {
	s.publishRegistry()
	instruments := []*models.DebtInstrument{
		{InstrumentID: "loan-1", Tag: models.TagExisting, Payment: models.Present(8000), PaymentsPerYear: 12},
		{InstrumentID: "loan-2", Tag: models.TagProposed, Payment: models.Present(2000), PaymentsPerYear: 12},
	}
	s.Require().NoError(s.svc.IngestFacts(s.ctx, s.dealID, s.healthyPeriods(), instruments))

	result, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{DealID: s.dealID, Strategy: period.LatestFY})
	s.Require().NoError(err)

	ds := result.Snapshot.DebtService
	s.Equal(models.SourceInstrumentPortfolio, ds.Diagnostics.Source)
	s.Equal(120000.0, ds.TotalDebtService.Float())
	s.Equal(96000.0, ds.Breakdown.Existing.Float())
	s.Equal(24000.0, ds.Breakdown.Proposed.Float())
}

func (s *AnalysisSuite) TestExplicitPeriodSelection() {
	s.Require().NoError(s.svc.IngestFacts(s.ctx, s.dealID, s.healthyPeriods(), nil))

	result, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{
		DealID:   s.dealID,
		Strategy: period.Explicit,
		PeriodID: "ttm-2024h1",
	})
	s.Require().NoError(err)
	s.Require().NotNil(result.Snapshot.Selection.Period)
	s.Equal("ttm-2024h1", result.Snapshot.Selection.Period.PeriodID)
}

func (s *AnalysisSuite) TestIngestRejectsUnidentifiedPeriods() {
	err := s.svc.IngestFacts(s.ctx, s.dealID, []*models.FinancialPeriod{{PeriodEnd: "2023-12-31"}}, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *AnalysisSuite) TestNilDealID() {
	_, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *AnalysisSuite) TestProofsForDealVerifiesReceipts() {
	s.publishRegistry()
	s.Require().NoError(s.svc.IngestFacts(s.ctx, s.dealID, s.healthyPeriods(), nil))
	_, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{DealID: s.dealID, Strategy: period.LatestFY})
	s.Require().NoError(err)

	records, err := s.svc.ProofsForDeal(s.ctx, s.dealID)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(s.dealID, records[0].DealID)
}

func (s *AnalysisSuite) TestValidationUsesBusinessModelOverride() {
	s.Require().NoError(s.svc.IngestFacts(s.ctx, s.dealID, []*models.FinancialPeriod{
		{
			PeriodID: "fy-2023", PeriodEnd: "2023-12-31", Type: models.PeriodFYE, Months: 12,
			Income: models.IncomeFacts{
				EBITDA:   models.Present(400000),
				Interest: models.Present(120000),
			},
		},
	}, nil))

	// DSCR computes, the rest is missing. Real-estate requires only DSCR.
	re, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{
		DealID: s.dealID, Strategy: period.LatestFY, BusinessModel: snapshot.RealEstate,
	})
	s.Require().NoError(err)
	s.True(re.Validation.Valid)

	oc, err := s.svc.BuildSnapshot(s.ctx, BuildRequest{
		DealID: s.dealID, Strategy: period.LatestFY, BusinessModel: snapshot.OperatingCompany,
	})
	s.Require().NoError(err)
	s.False(oc.Validation.Valid)
}

func (s *AnalysisSuite) TestProofExportEmitsAuditEvent() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockPublisher(ctrl)

	var seen audit.Event
	publisher.EXPECT().
		Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event audit.Event) error {
			seen = event
			return nil
		})

	svc := New(s.registry, s.facts,
		WithProofExport(s.proofs, s.signer),
		WithAuditPublisher(publisher))

	s.publishRegistry()
	s.Require().NoError(svc.IngestFacts(s.ctx, s.dealID, s.healthyPeriods(), nil))

	result, err := svc.BuildSnapshot(s.ctx, BuildRequest{DealID: s.dealID, Strategy: period.LatestFY})
	s.Require().NoError(err)

	s.Equal(string(audit.EventSnapshotExported), seen.Action)
	s.Equal(result.Proof.VersionID.String(), seen.VersionID)
	s.Equal(result.Proof.ContentHash, seen.ContentHash)
}

func (s *AnalysisSuite) TestProofExportFailsClosedOnAuditError() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockPublisher(ctrl)
	publisher.EXPECT().
		Emit(gomock.Any(), gomock.Any()).
		Return(dErrors.New(dErrors.CodeInternal, "broker unreachable"))

	svc := New(s.registry, s.facts,
		WithProofExport(s.proofs, s.signer),
		WithAuditPublisher(publisher))

	s.publishRegistry()
	s.Require().NoError(svc.IngestFacts(s.ctx, s.dealID, s.healthyPeriods(), nil))

	_, err := svc.BuildSnapshot(s.ctx, BuildRequest{DealID: s.dealID, Strategy: period.LatestFY})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
