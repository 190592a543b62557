package types

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functional Validation Tests - Participant

func TestParticipant_Validate(t *testing.T) {
	tests := []struct {
		name        string
		participant Participant
		wantErr     error
	}{
		{"valid participant", Participant{ID: "alice_1", Name: "Alice"}, nil},
		{"empty id", Participant{ID: "", Name: "Alice"}, ErrInvalidParticipant},
		{"id with spaces", Participant{ID: "alice smith", Name: "Alice"}, ErrInvalidParticipant},
		{"id too long", Participant{ID: strings.Repeat("a", 51), Name: "Alice"}, ErrInvalidParticipant},
		{"reserved moderator id", Participant{ID: ModeratorID, Name: "Mod"}, ErrValidation},
		{"blank name", Participant{ID: "alice", Name: "   "}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.participant.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("I disagree, and here is why."))
	assert.ErrorIs(t, ValidateContent(""), ErrEmptyContent)
	assert.ErrorIs(t, ValidateContent(" \n\t "), ErrEmptyContent)
	assert.ErrorIs(t, ValidateContent(strings.Repeat("x", MaxContentBytes+1)), ErrContentTooLarge)
	assert.ErrorIs(t, ValidateContent("caf\xe9"), ErrInvalidContent)
	assert.NotErrorIs(t, ValidateContent("caf\xe9"), ErrContentTooLarge)
	assert.NoError(t, ValidateContent(strings.Repeat("x", MaxContentBytes)))
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"climate, policy", []string{"climate", "policy"}},
		{" , ,", []string{}},
		{"", []string{}},
		{"AI,ai, Ethics ", []string{"AI", "Ethics"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTags(tt.raw), "raw=%q", tt.raw)
	}
}

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := NewValidationError("title", "is required")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, "validation failed: title is required", err.Error())

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "title", ve.Field)
}

func TestDebateSession_CloneIsDeep(t *testing.T) {
	ended := time.Now()
	s := &DebateSession{
		ID:           "s1",
		Participants: []Participant{{ID: "a", Name: "A"}},
		Messages:     []Message{{ID: "m1", Content: "hi"}},
		Tags:         []string{"x"},
		EndedAt:      &ended,
	}

	c := s.Clone()
	c.Participants[0].Name = "changed"
	c.Messages[0].Content = "changed"
	c.Tags[0] = "changed"
	*c.EndedAt = ended.Add(time.Hour)

	assert.Equal(t, "A", s.Participants[0].Name)
	assert.Equal(t, "hi", s.Messages[0].Content)
	assert.Equal(t, "x", s.Tags[0])
	assert.Equal(t, ended, *s.EndedAt)
	assert.Nil(t, (*DebateSession)(nil).Clone())
}

func TestDebateSession_HasParticipant(t *testing.T) {
	s := &DebateSession{Participants: []Participant{{ID: "a"}, {ID: "b"}}}
	assert.True(t, s.HasParticipant("b"))
	assert.False(t, s.HasParticipant("c"))
}

func TestDebateProposal_Requester(t *testing.T) {
	p := &DebateProposal{RequesterID: "r1", RequesterName: "Rae", RequesterAvatar: "av", Tags: []string{"t"}}
	assert.Equal(t, Participant{ID: "r1", Name: "Rae", Avatar: "av"}, p.Requester())

	c := p.Clone()
	c.Tags[0] = "changed"
	assert.Equal(t, "t", p.Tags[0])
}
