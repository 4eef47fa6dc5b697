package period

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"covenant/internal/analysis/models"
)

type PeriodSuite struct {
	suite.Suite
	periods []*models.FinancialPeriod
}

func (s *PeriodSuite) SetupTest() {
	s.periods = []*models.FinancialPeriod{
		{PeriodID: "fy-2022", PeriodEnd: "2022-12-31", Type: models.PeriodFYE, Months: 12},
		{PeriodID: "fy-2023", PeriodEnd: "2023-12-31", Type: models.PeriodFYE, Months: 12},
		{PeriodID: "ttm-2024h1", PeriodEnd: "2024-06-30", Type: models.PeriodTTM, Months: 12},
	}
}

func TestPeriodSuite(t *testing.T) {
	suite.Run(t, new(PeriodSuite))
}

func (s *PeriodSuite) TestLatestFYIgnoresNewerTTM() {
	sel := Select(s.periods, Options{Strategy: LatestFY})
	s.Require().NotNil(sel.Period)
	s.Equal("fy-2023", sel.Period.PeriodID)
	s.Equal([]string{"fy-2022", "fy-2023"}, sel.Diagnostics.CandidateIDs)
	s.Equal([]string{"ttm-2024h1"}, sel.Diagnostics.ExcludedIDs)
}

func (s *PeriodSuite) TestLatestTTM() {
	sel := Select(s.periods, Options{Strategy: LatestTTM})
	s.Require().NotNil(sel.Period)
	s.Equal("ttm-2024h1", sel.Period.PeriodID)
}

func (s *PeriodSuite) TestLatestAvailablePicksGreatestEnd() {
	sel := Select(s.periods, Options{Strategy: LatestAvailable})
	s.Require().NotNil(sel.Period)
	s.Equal("ttm-2024h1", sel.Period.PeriodID)
	s.Empty(sel.Diagnostics.ExcludedIDs)
}

func (s *PeriodSuite) TestEmptyFilteredSetSelectsNothing() {
	onlyTTM := []*models.FinancialPeriod{
		{PeriodID: "ttm", PeriodEnd: "2024-06-30", Type: models.PeriodTTM},
	}
	sel := Select(onlyTTM, Options{Strategy: LatestFY})
	s.Nil(sel.Period)
	s.Equal("no period matches the strategy", sel.Diagnostics.Reason)
	s.Equal([]string{"ttm"}, sel.Diagnostics.ExcludedIDs)
}

func (s *PeriodSuite) TestLatestAvailableOnEmptyCollection() {
	sel := Select(nil, Options{Strategy: LatestAvailable})
	s.Nil(sel.Period)
}

func (s *PeriodSuite) TestExplicit() {
	s.Run("exact id match", func() {
		sel := Select(s.periods, Options{Strategy: Explicit, PeriodID: "fy-2022"})
		s.Require().NotNil(sel.Period)
		s.Equal("fy-2022", sel.Period.PeriodID)
	})

	s.Run("unknown id selects nothing", func() {
		sel := Select(s.periods, Options{Strategy: Explicit, PeriodID: "missing"})
		s.Nil(sel.Period)
		s.Contains(sel.Diagnostics.Reason, "missing")
	})
}

func (s *PeriodSuite) TestUnknownStrategy() {
	sel := Select(s.periods, Options{Strategy: "NEWEST"})
	s.Nil(sel.Period)
	s.Contains(sel.Diagnostics.Reason, "NEWEST")
}

func (s *PeriodSuite) TestDeterministic() {
	first := Select(s.periods, Options{Strategy: LatestFY})
	second := Select(s.periods, Options{Strategy: LatestFY})
	s.Equal(first, second)
}
