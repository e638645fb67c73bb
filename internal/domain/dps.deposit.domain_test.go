package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{"waiting to confirming", StatusWaiting, StatusConfirming, true},
		{"waiting to confirmed", StatusWaiting, StatusConfirmed, true},
		{"waiting to finished", StatusWaiting, StatusFinished, true},
		{"waiting to expired", StatusWaiting, StatusExpired, true},
		{"waiting to failed", StatusWaiting, StatusFailed, true},
		{"waiting to refunded", StatusWaiting, StatusRefunded, true},

		{"confirming to confirmed", StatusConfirming, StatusConfirmed, true},
		{"confirming to finished", StatusConfirming, StatusFinished, true},
		{"confirming to failed", StatusConfirming, StatusFailed, true},
		{"confirming back to waiting", StatusConfirming, StatusWaiting, false},
		{"confirming to expired", StatusConfirming, StatusExpired, false},

		{"confirmed to finished", StatusConfirmed, StatusFinished, true},
		{"confirmed to refunded", StatusConfirmed, StatusRefunded, true},
		{"confirmed back to confirming", StatusConfirmed, StatusConfirming, false},
		{"confirmed to failed", StatusConfirmed, StatusFailed, false},
		{"confirmed to expired", StatusConfirmed, StatusExpired, false},

		{"finished is terminal", StatusFinished, StatusRefunded, false},
		{"expired is terminal", StatusExpired, StatusFinished, false},
		{"failed is terminal", StatusFailed, StatusConfirming, false},
		{"refunded is terminal", StatusRefunded, StatusFinished, false},

		{"same status is not a transition", StatusConfirming, StatusConfirming, false},
		{"unknown target", StatusWaiting, PaymentStatus("sending"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []PaymentStatus{StatusFinished, StatusExpired, StatusFailed, StatusRefunded}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}
	live := []PaymentStatus{StatusWaiting, StatusConfirming, StatusConfirmed}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestPaymentActive(t *testing.T) {
	now := time.Now()

	p := &DepositPayment{Status: StatusWaiting, ExpiresAt: now.Add(10 * time.Minute)}
	assert.True(t, p.Active(now))

	p.ExpiresAt = now.Add(-time.Second)
	assert.False(t, p.Active(now), "waiting past its window is not active")

	// Once funds were seen the window no longer applies.
	p.Status = StatusConfirming
	assert.True(t, p.Active(now))

	p.Status = StatusFinished
	assert.False(t, p.Active(now))
}

func TestExpiresInClampsAtZero(t *testing.T) {
	now := time.Now()

	p := &DepositPayment{ExpiresAt: now.Add(90 * time.Second)}
	assert.Equal(t, int64(90), p.ExpiresIn(now))

	p.ExpiresAt = now.Add(-time.Hour)
	assert.Equal(t, int64(0), p.ExpiresIn(now))
}
