package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/records-billing/billing"
)

func storageRequest(container billing.ContainerTypeID, asOf billing.TimePoint) billing.RequestContext {
	return billing.RequestContext{
		ServiceType:   billing.ServiceStorage,
		ContainerType: container,
		AsOf:          asOf,
		Quantity:      d("1"),
	}
}

func TestResolve_ContainerSpecificBeatsGeneric(t *testing.T) {
	// GIVEN: A generic storage line and one scoped to type_01
	generic := perUnit("generic", "0.50")
	scoped := perUnit("type01", "0.40")
	scoped.ContainerType = "type_01"

	// WHEN: Resolving a type_01 storage request
	line, err := billing.RuleResolver{}.Resolve(storageRequest("type_01", date(2025, time.March, 1)), []billing.RateLine{generic, scoped})

	// THEN: The container-specific line wins
	require.NoError(t, err)
	assert.Equal(t, billing.RateLineID("type01"), line.ID)
}

func TestResolve_GenericUsedForOtherContainers(t *testing.T) {
	generic := perUnit("generic", "0.50")
	scoped := perUnit("type01", "0.40")
	scoped.ContainerType = "type_01"

	line, err := billing.RuleResolver{}.Resolve(storageRequest("type_03", date(2025, time.March, 1)), []billing.RateLine{scoped, generic})

	require.NoError(t, err)
	assert.Equal(t, billing.RateLineID("generic"), line.ID)
}

func TestResolve_LatestEffectiveDateWins(t *testing.T) {
	v1 := perUnit("v1", "0.40")
	v1.EffectiveDate = datePtr(2024, time.January, 1)
	v2 := perUnit("v2", "0.45")
	v2.EffectiveDate = datePtr(2025, time.January, 1)
	undated := perUnit("undated", "0.30")

	candidates := []billing.RateLine{v2, undated, v1}

	line, err := billing.RuleResolver{}.Resolve(storageRequest("", date(2025, time.June, 1)), candidates)
	require.NoError(t, err)
	assert.Equal(t, billing.RateLineID("v2"), line.ID)

	// Before v2 takes effect, v1 is the newest active line
	line, err = billing.RuleResolver{}.Resolve(storageRequest("", date(2024, time.June, 1)), candidates)
	require.NoError(t, err)
	assert.Equal(t, billing.RateLineID("v1"), line.ID)
}

func TestResolve_IndependentOfCandidateOrder(t *testing.T) {
	a := perUnit("a", "1")
	a.EffectiveDate = datePtr(2025, time.January, 1)
	b := perUnit("b", "2")
	b.EffectiveDate = datePtr(2025, time.February, 1)
	c := perUnit("c", "3")
	c.ContainerType = "type_01"
	c.EffectiveDate = datePtr(2024, time.January, 1)

	req := storageRequest("type_01", date(2025, time.March, 1))
	orders := [][]billing.RateLine{{a, b, c}, {c, b, a}, {b, c, a}}
	for _, candidates := range orders {
		line, err := billing.RuleResolver{}.Resolve(req, candidates)
		require.NoError(t, err)
		assert.Equal(t, billing.RateLineID("c"), line.ID)
	}
}

func TestResolve_NoApplicableRate(t *testing.T) {
	retrieval := perUnit("retrieval", "3")
	retrieval.ServiceType = billing.ServiceRetrieval
	expired := perUnit("expired", "1")
	expired.ExpiryDate = datePtr(2024, time.December, 31)

	_, err := billing.RuleResolver{}.Resolve(storageRequest("", date(2025, time.March, 1)), []billing.RateLine{retrieval, expired})

	require.ErrorIs(t, err, billing.ErrNoApplicableRate)
	var nerr *billing.NoApplicableRateError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, 2, nerr.Candidates)
	assert.True(t, billing.IsConfigurationError(err))
}

func TestResolve_AmbiguousRateIsSurfaced(t *testing.T) {
	// GIVEN: Two generic lines with the same effective date
	a := perUnit("a", "1")
	a.EffectiveDate = datePtr(2025, time.January, 1)
	b := perUnit("b", "2")
	b.EffectiveDate = datePtr(2025, time.January, 1)

	// WHEN: Resolving
	_, err := billing.RuleResolver{}.Resolve(storageRequest("", date(2025, time.March, 1)), []billing.RateLine{a, b})

	// THEN: The engine refuses to guess
	require.ErrorIs(t, err, billing.ErrAmbiguousRate)
	var aerr *billing.AmbiguousRateError
	require.True(t, errors.As(err, &aerr))
	assert.ElementsMatch(t, []billing.RateLineID{"a", "b"}, aerr.Tied)
}

func TestResolve_TwoUndatedGenericLinesAreAmbiguous(t *testing.T) {
	_, err := billing.RuleResolver{}.Resolve(storageRequest("", date(2025, time.March, 1)),
		[]billing.RateLine{perUnit("a", "1"), perUnit("b", "1")})
	assert.ErrorIs(t, err, billing.ErrAmbiguousRate)
}

func TestEngine_Quote(t *testing.T) {
	generic := perUnit("generic", "2.00")
	scoped := perUnit("type01", "1.50")
	scoped.ContainerType = "type_01"
	scoped.MinimumCharge = d("5")

	req := storageRequest("type_01", date(2025, time.March, 1))
	req.Quantity = d("2")

	line, charge, err := billing.NewEngine().Quote(req, []billing.RateLine{generic, scoped})
	require.NoError(t, err)
	assert.Equal(t, billing.RateLineID("type01"), line.ID)
	assert.Equal(t, line.ID, charge.RateLineID)
	assert.True(t, charge.FinalCharge.Equal(d("5")))
	assert.Equal(t, billing.CapMinimum, charge.CapApplied)

	req.Quantity = d("-3")
	_, _, err = billing.NewEngine().Quote(req, []billing.RateLine{generic, scoped})
	assert.ErrorIs(t, err, billing.ErrInvalidQuantity)
}
