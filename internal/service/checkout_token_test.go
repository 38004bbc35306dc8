package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appErrors "github.com/vogiaan1904/ticketbottle-admission/internal/errors"
	"github.com/vogiaan1904/ticketbottle-admission/internal/models"
	"github.com/vogiaan1904/ticketbottle-admission/pkg/clock"
)

func TestCheckoutTokens(t *testing.T) {
	clk := clock.NewFake(t0)
	tokens := NewCheckoutTokens("secret", 20*time.Minute, clk)
	ps := &models.PurchaseSession{ID: "ps-1", EventID: testEvent, UserID: "u1", StartedAt: t0}

	raw, err := tokens.Issue(ps)
	require.NoError(t, err)
	assert.NoError(t, tokens.Validate(raw, "ps-1"))

	assert.ErrorIs(t, tokens.Validate(raw, "ps-2"), appErrors.ErrInvalidCheckoutToken)
	assert.ErrorIs(t, tokens.Validate("", "ps-1"), appErrors.ErrInvalidCheckoutToken)

	forged := NewCheckoutTokens("other", 20*time.Minute, clk)
	assert.ErrorIs(t, forged.Validate(raw, "ps-1"), appErrors.ErrInvalidCheckoutToken)

	clk.Advance(21 * time.Minute)
	assert.ErrorIs(t, tokens.Validate(raw, "ps-1"), appErrors.ErrInvalidCheckoutToken)
}
