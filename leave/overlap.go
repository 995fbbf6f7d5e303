package leave

import "context"

// OverlapValidator checks a candidate date range against a user's active
// requests. Terminal and soft-deleted requests never conflict.
type OverlapValidator struct {
	Reader Reader
}

// HasOverlap reports whether [start, end] intersects any active request of
// user other than excluding.
func (v *OverlapValidator) HasOverlap(ctx context.Context, user UserID, start, end Date, excluding *RequestID) (bool, error) {
	conflict, err := v.conflict(ctx, v.Reader, user, start, end, excluding)
	if err != nil {
		return false, wrapStorage("overlap check", err)
	}
	return conflict != nil, nil
}

// Check returns an OverlapError naming the first conflicting request.
func (v *OverlapValidator) Check(ctx context.Context, r Reader, user UserID, start, end Date, excluding *RequestID) error {
	conflict, err := v.conflict(ctx, r, user, start, end, excluding)
	if err != nil {
		return err
	}
	if conflict != nil {
		return &OverlapError{UserID: user, Conflicting: conflict.ID, Start: start, End: end}
	}
	return nil
}

func (v *OverlapValidator) conflict(ctx context.Context, r Reader, user UserID, start, end Date, excluding *RequestID) (*Request, error) {
	filter := RequestFilter{
		UserID: user,
		States: ActiveStates,
		From:   &start,
		To:     &end,
	}
	if excluding != nil {
		filter.ExcludeID = *excluding
	}

	existing, err := r.ListRequests(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if Overlaps(existing[i].StartDate, existing[i].EndDate, start, end) {
			return &existing[i], nil
		}
	}
	return nil, nil
}
