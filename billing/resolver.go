/*
resolver.go - Picks the one rate line that prices a request

PURPOSE:
  Given a RequestContext and the candidate lines a caller loaded from its
  store, return exactly one line or fail. Resolution is a total order so
  the answer never depends on the order candidates arrive in.

TIE-BREAK ORDER:
  1. A line scoped to the request's container type beats a generic line
  2. Among those, the latest EffectiveDate wins (undated counts as oldest)
  3. Anything still tied is a configuration error (ErrAmbiguousRate)

CACHING:
  There is none. Callers that price many requests against the same rate card
  load the candidates once and pass the same slice each time.
*/
package billing

// RuleResolver selects rate lines. It has no state; the zero value is ready.
type RuleResolver struct{}

// Resolve returns the best rate line for req among candidates.
func (RuleResolver) Resolve(req RequestContext, candidates []RateLine) (RateLine, error) {
	var matches []RateLine
	for _, line := range candidates {
		if line.AppliesTo(req) {
			matches = append(matches, line)
		}
	}

	if len(matches) == 0 {
		return RateLine{}, &NoApplicableRateError{
			ServiceType:   req.ServiceType,
			ContainerType: req.ContainerType,
			AsOf:          req.AsOf,
			Candidates:    len(candidates),
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}

	// Container-specific lines shadow generic ones
	scoped := matches[:0:0]
	for _, line := range matches {
		if line.IsContainerScoped() {
			scoped = append(scoped, line)
		}
	}
	if len(scoped) > 0 {
		matches = scoped
	}

	// Most recently effective wins
	latest := matches[0].effectiveOrZero()
	for _, line := range matches[1:] {
		if eff := line.effectiveOrZero(); eff.After(latest) {
			latest = eff
		}
	}
	var best []RateLine
	for _, line := range matches {
		if line.effectiveOrZero().Equal(latest) {
			best = append(best, line)
		}
	}

	if len(best) > 1 {
		tied := make([]RateLineID, len(best))
		for i, line := range best {
			tied[i] = line.ID
		}
		return RateLine{}, &AmbiguousRateError{ServiceType: req.ServiceType, AsOf: req.AsOf, Tied: tied}
	}
	return best[0], nil
}
