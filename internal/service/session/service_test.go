package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndLookup(t *testing.T) {
	svc, err := New("s3cret", time.Hour)
	require.NoError(t, err)

	token, id, err := svc.Issue()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := svc.Lookup(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, id2, err := svc.Issue()
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestLookupRejectsTamperedAndForeignTokens(t *testing.T) {
	svc, err := New("s3cret", time.Hour)
	require.NoError(t, err)
	other, err := New("different", time.Hour)
	require.NoError(t, err)

	token, _, err := other.Issue()
	require.NoError(t, err)
	_, err = svc.Lookup(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	good, _, err := svc.Issue()
	require.NoError(t, err)
	_, err = svc.Lookup(good + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Lookup("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	svc, err := New("s3cret", time.Hour)
	require.NoError(t, err)

	customerToken, err := svc.IssueCustomer("cust-1")
	require.NoError(t, err)
	id, err := svc.LookupCustomer(customerToken)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", id)

	_, err = svc.Lookup(customerToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	sessionToken, _, err := svc.Issue()
	require.NoError(t, err)
	_, err = svc.LookupCustomer(sessionToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc, err := New("s3cret", time.Minute)
	require.NoError(t, err)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, _, err := svc.Issue()
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = svc.Lookup(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(" ", time.Hour)
	assert.Error(t, err)
}
