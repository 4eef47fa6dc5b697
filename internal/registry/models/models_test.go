package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "covenant/pkg/domain"
	dErrors "covenant/pkg/domain-errors"
)

type VersionSuite struct {
	suite.Suite
	now time.Time
}

func (s *VersionSuite) SetupTest() {
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestVersionSuite(t *testing.T) {
	suite.Run(t, new(VersionSuite))
}

func (s *VersionSuite) draft() *RegistryVersion {
	v, err := NewRegistryVersion(id.VersionID(uuid.New()), "2024-Q2 ratios", 3, "governance@bank", s.now)
	s.Require().NoError(err)
	return v
}

func (s *VersionSuite) TestNewRegistryVersion() {
	s.Run("starts as an empty draft", func() {
		v := s.draft()
		s.Equal(StatusDraft, v.Status)
		s.Empty(v.ContentHash)
		s.Nil(v.PublishedAt)
	})

	s.Run("rejects empty name", func() {
		_, err := NewRegistryVersion(id.VersionID(uuid.New()), "", 1, "", s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *VersionSuite) TestPublishTransition() {
	s.Run("publishes a draft with entries", func() {
		v := s.draft()
		s.Require().NoError(v.CanPublish(2))
		v.ApplyPublish("abc123", s.now)
		s.Equal(StatusPublished, v.Status)
		s.Equal("abc123", v.ContentHash)
		s.Require().NotNil(v.PublishedAt)
		s.Equal(s.now, *v.PublishedAt)
	})

	s.Run("rejects publishing an empty draft", func() {
		v := s.draft()
		err := v.CanPublish(0)
		s.Require().Error(err)
		s.Contains(err.Error(), ReasonNoEntries)
	})

	s.Run("rejects a second publish", func() {
		v := s.draft()
		s.Require().NoError(v.CanPublish(1))
		v.ApplyPublish("abc123", s.now)

		err := v.CanPublish(1)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Contains(err.Error(), ReasonRegistryImmutable)
	})
}

func (s *VersionSuite) TestDeprecateTransition() {
	s.Run("deprecates a published version", func() {
		v := s.draft()
		v.ApplyPublish("abc123", s.now)
		s.Require().NoError(v.CanDeprecate())
		v.ApplyDeprecate(s.now.Add(time.Hour))
		s.Equal(StatusDeprecated, v.Status)
		// Hash and publish time survive deprecation for replay.
		s.Equal("abc123", v.ContentHash)
		s.NotNil(v.PublishedAt)
	})

	s.Run("rejects deprecating a draft", func() {
		v := s.draft()
		s.Require().Error(v.CanDeprecate())
	})

	s.Run("rejects deprecating twice", func() {
		v := s.draft()
		v.ApplyPublish("abc123", s.now)
		v.ApplyDeprecate(s.now)
		s.Require().Error(v.CanDeprecate())
	})
}

func (s *VersionSuite) TestStatusEdges() {
	s.True(StatusDraft.CanTransitionTo(StatusPublished))
	s.True(StatusPublished.CanTransitionTo(StatusDeprecated))
	s.False(StatusDraft.CanTransitionTo(StatusDeprecated))
	s.False(StatusPublished.CanTransitionTo(StatusDraft))
	s.False(StatusDeprecated.CanTransitionTo(StatusPublished))
	s.False(StatusDeprecated.CanTransitionTo(StatusDraft))
}
