package provision

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// Option toggles provisioning behavior per call.
type Option int

const (
	// PurgeExistingTemporaryBindings removes superseded temporary bindings
	// for the same role and member set before appending, so continuous
	// re-activation does not accrete bindings against the per-policy cap.
	PurgeExistingTemporaryBindings Option = 1 << iota
	// FailIfBindingExists fails with AlreadyExists when an equal binding is
	// already present. Used on the MPA path to make concurrent approvals
	// idempotent.
	FailIfBindingExists
)

const (
	maxAttempts    = 4
	conflictDelay  = 200 * time.Millisecond
	tracerName     = "jitaccess.provision"
	minMembersSize = 1
)

// Engine appends conditional bindings to project policies.
type Engine struct {
	client    PolicyClient
	validator *condition.Validator
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewEngine creates a provisioning engine over client. validator may be nil
// to skip expression compile checks.
func NewEngine(client PolicyClient, validator *condition.Validator) *Engine {
	return &Engine{
		client:    client,
		validator: validator,
		logger:    slog.Default().With("component", "provision"),
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AddProjectBinding appends binding to the policy of project, applying opts.
// The write is one optimistic-CAS transaction: read, modify, write
// conditioned on the etag, retried up to the attempt budget on conflict.
func (e *Engine) AddProjectBinding(ctx context.Context, project resources.ProjectID, binding *Binding, opts Option, requestReason string) error {
	if binding == nil || binding.Role == "" || len(binding.Members) < minMembersSize {
		return apperr.New(apperr.InvalidArgument, "binding must carry a role and at least one member")
	}
	if e.validator != nil && binding.Condition != nil {
		if err := e.validator.Check(binding.Condition.Expression); err != nil {
			return apperr.Wrap(apperr.InvalidArgument, err, "invalid condition expression")
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "AddProjectBinding",
		trace.WithAttributes(
			attribute.String("project", project.ID),
			attribute.String("role", binding.Role),
		))
	defer span.End()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		policy, err := e.client.GetProjectPolicy(ctx, project, requestReason)
		if err != nil {
			return err
		}
		policy.Version = PolicyVersion

		if opts&FailIfBindingExists != 0 {
			for _, existing := range policy.Bindings {
				if existing.Equal(binding) {
					return apperr.New(apperr.AlreadyExists,
						"an equivalent binding for role %s already exists on project %s", binding.Role, project.ID)
				}
			}
		}

		if opts&PurgeExistingTemporaryBindings != 0 {
			policy.Bindings = purgeTemporary(policy.Bindings, binding)
		}

		policy.Bindings = append(policy.Bindings, binding)

		err = e.client.SetProjectPolicy(ctx, project, policy, requestReason)
		if err == nil {
			e.logger.InfoContext(ctx, "binding provisioned",
				"project", project.ID,
				"role", binding.Role,
				"attempt", attempt,
			)
			return nil
		}
		if !e.client.IsConflict(err) {
			return err
		}

		e.logger.WarnContext(ctx, "policy write conflict, retrying",
			"project", project.ID,
			"attempt", attempt,
		)
		if attempt < maxAttempts {
			if serr := e.sleep(ctx, conflictDelay); serr != nil {
				return apperr.Wrap(apperr.Unavailable, serr, "provisioning canceled")
			}
		}
	}

	return apperr.New(apperr.AlreadyExists,
		"concurrent modification of the policy of project %s", project.ID)
}

// purgeTemporary drops every binding with the same role and member set as
// next whose condition expression is a temporary-access window.
func purgeTemporary(bindings []*Binding, next *Binding) []*Binding {
	kept := bindings[:0]
	for _, b := range bindings {
		if b.Role == next.Role && sameMembers(b.Members, next.Members) && condition.IsTemporary(b.Condition) {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}
