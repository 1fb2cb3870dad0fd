package activation

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
	"github.com/Mindburn-Labs/jitaccess/pkg/token"
)

// claimsFromRequest flattens a multi-party request into the approval-token
// payload.
func claimsFromRequest(req *MpaRequest) *token.Claims {
	reviewers := make([]string, 0, len(req.reviewers))
	for _, r := range req.reviewers {
		reviewers = append(reviewers, r.Email)
	}
	privilege := req.Privilege()
	return &token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: req.id},
		Beneficiary:      req.requestingUser.Email,
		Reviewers:        reviewers,
		Resource:         privilege.Project.FullResourceName(),
		Role:             privilege.Role,
		Justification:    req.justification,
		Start:            req.startTime.Unix(),
		End:              req.EndTime().Unix(),
	}
}

// requestFromClaims reconstructs the multi-party request a token carries.
// The activation type is re-derived by the catalog checks, not trusted from
// the token, so the claims only carry the request facts.
func requestFromClaims(claims *token.Claims, activationType condition.ActivationType) (*MpaRequest, error) {
	if !IsMpaID(claims.ID) {
		return nil, apperr.New(apperr.AccessDenied, "the approval token does not carry a multi-party request")
	}
	project, ok := resources.ParseProjectFullResourceName(claims.Resource)
	if !ok {
		return nil, apperr.New(apperr.AccessDenied, "the approval token names an unrecognized resource")
	}
	beneficiary, err := resources.NewUserEmail(claims.Beneficiary)
	if err != nil {
		return nil, apperr.New(apperr.AccessDenied, "the approval token names an invalid beneficiary")
	}
	reviewers := make([]resources.UserEmail, 0, len(claims.Reviewers))
	for _, r := range claims.Reviewers {
		reviewer, err := resources.NewUserEmail(r)
		if err != nil {
			return nil, apperr.New(apperr.AccessDenied, "the approval token names an invalid reviewer")
		}
		reviewers = append(reviewers, reviewer)
	}

	start := time.Unix(claims.Start, 0).UTC()
	end := time.Unix(claims.End, 0).UTC()
	if !end.After(start) {
		return nil, apperr.New(apperr.AccessDenied, "the approval token carries an invalid window")
	}

	return &MpaRequest{
		Request: Request{
			id:             claims.ID,
			requestingUser: beneficiary,
			privileges:     []resources.ProjectRole{resources.NewProjectRole(project, claims.Role)},
			justification:  claims.Justification,
			startTime:      start,
			duration:       end.Sub(start),
			activationType: activationType,
		},
		reviewers: dedupeReviewers(reviewers),
	}, nil
}
