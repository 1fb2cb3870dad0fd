package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/provision"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// PolicySnapshot is one policy from the effective-policy union of a
// project: the project's own policy or one inherited from its ancestry.
type PolicySnapshot struct {
	AttachedResource string
	Bindings         []*provision.Binding
}

// EffectivePolicyClient is the batch effective-policy API. Unlike the
// analyzer it is not personalized: it returns raw bindings and leaves group
// expansion and condition evaluation to the caller.
type EffectivePolicyClient interface {
	GetEffectiveIamPolicies(ctx context.Context, scope string, project resources.ProjectID) ([]PolicySnapshot, error)
}

// DirectoryClient resolves group memberships.
type DirectoryClient interface {
	// ListDirectGroups returns the group emails user is a direct member of.
	ListDirectGroups(ctx context.Context, user resources.UserEmail) ([]string, error)
	// ListGroupMembers returns the user members of a group.
	ListGroupMembers(ctx context.Context, groupEmail string) ([]resources.UserEmail, error)
}

// AssetInventoryRepository implements RoleRepository on the effective-policy
// API plus directory group expansion. Used where the analyzer API is
// unavailable.
type AssetInventoryRepository struct {
	policies  EffectivePolicyClient
	directory DirectoryClient
	scope     string
	clock     func() time.Time
	logger    *slog.Logger
}

// NewAssetInventoryRepository creates the effective-policy repository.
func NewAssetInventoryRepository(policies EffectivePolicyClient, directory DirectoryClient, scope string) *AssetInventoryRepository {
	return &AssetInventoryRepository{
		policies:  policies,
		directory: directory,
		scope:     scope,
		clock:     time.Now,
		logger:    slog.Default().With("component", "catalog.assetinventory"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *AssetInventoryRepository) WithClock(clock func() time.Time) *AssetInventoryRepository {
	r.clock = clock
	return r
}

// FindProjectsWithPrivileges is not supported by this backend: enumerating
// every project's effective policy does not scale. Deployments using the
// asset-inventory catalog must configure a project query for scope listing.
func (r *AssetInventoryRepository) FindProjectsWithPrivileges(ctx context.Context, user resources.UserEmail) ([]resources.ProjectID, error) {
	return nil, apperr.New(apperr.Internal,
		"project discovery requires AVAILABLE_PROJECTS_QUERY when RESOURCE_CATALOG is AssetInventory")
}

// FindPrivileges fetches the effective policies and the user's direct group
// memberships in parallel, then classifies every ancestral binding whose
// member list intersects the user's principal set.
func (r *AssetInventoryRepository) FindPrivileges(ctx context.Context, user resources.UserEmail, project resources.ProjectID,
	kinds []condition.ActivationKind, statuses []Status) (*PrivilegeSet, error) {

	var (
		snapshots []PolicySnapshot
		groups    []string
		warnings  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshots, err = r.policies.GetEffectiveIamPolicies(gctx, r.scope, project)
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = r.directory.ListDirectGroups(gctx, user)
		if apperr.Is(err, apperr.AccessDenied) {
			// External-tenant groups are unreadable without admin rights
			// over the tenant. Treat as empty membership, but say so.
			warnings = append(warnings, fmt.Sprintf("group memberships of %s could not be resolved: %s", user, apperr.Message(err)))
			groups = nil
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	principals := make(map[string]bool, len(groups)+1)
	principals[user.IAMMember()] = true
	for _, group := range groups {
		principals["group:"+strings.ToLower(group)] = true
	}

	now := r.clock()
	c := newClassified()
	c.warnings = warnings
	for _, snapshot := range snapshots {
		for _, binding := range snapshot.Bindings {
			if !membersIntersect(binding.Members, principals) {
				continue
			}
			id := resources.NewProjectRole(project, binding.Role)
			c.classify(id, binding.Condition, evaluateCondition(binding.Condition, now))
		}
	}
	return c.set(kinds, statuses), nil
}

// FindReviewerHolders scans the effective policies for qualifying bindings
// and expands group members through the directory. Unreadable external
// groups are skipped with a log warning rather than failing the listing.
func (r *AssetInventoryRepository) FindReviewerHolders(ctx context.Context, projectRole resources.ProjectRole,
	activationType condition.ActivationType) ([]resources.UserEmail, error) {

	if activationType.Kind != condition.PeerApproval && activationType.Kind != condition.ExternalApproval {
		return nil, apperr.New(apperr.InvalidArgument, "activation type %s has no reviewers", activationType)
	}

	snapshots, err := r.policies.GetEffectiveIamPolicies(ctx, r.scope, projectRole.Project)
	if err != nil {
		return nil, err
	}

	seen := make(map[resources.UserEmail]bool)
	var holders []resources.UserEmail
	add := func(u resources.UserEmail) {
		if !seen[u] {
			seen[u] = true
			holders = append(holders, u)
		}
	}

	for _, snapshot := range snapshots {
		for _, binding := range snapshot.Bindings {
			if binding.Role != projectRole.Role || binding.Condition == nil {
				continue
			}
			if !reviewerQualifies(binding.Condition.Expression, activationType) {
				continue
			}
			for _, member := range binding.Members {
				switch {
				case strings.HasPrefix(member, "user:"):
					if u, err := resources.NewUserEmail(strings.TrimPrefix(member, "user:")); err == nil {
						add(u)
					}
				case strings.HasPrefix(member, "group:"):
					members, err := r.directory.ListGroupMembers(ctx, strings.TrimPrefix(member, "group:"))
					if apperr.Is(err, apperr.AccessDenied) {
						r.logger.WarnContext(ctx, "skipping unreadable group",
							"group", strings.TrimPrefix(member, "group:"),
							"reason", apperr.Message(err),
						)
						continue
					}
					if err != nil {
						return nil, err
					}
					for _, u := range members {
						add(u)
					}
				}
			}
		}
	}
	return resources.SortUserEmails(holders), nil
}

func membersIntersect(members []string, principals map[string]bool) bool {
	for _, m := range members {
		if principals[strings.ToLower(m)] {
			return true
		}
	}
	return false
}
