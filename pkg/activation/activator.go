package activation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/audit"
	"github.com/Mindburn-Labs/jitaccess/pkg/catalog"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/notify"
	"github.com/Mindburn-Labs/jitaccess/pkg/provision"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
	"github.com/Mindburn-Labs/jitaccess/pkg/token"
)

const activatorTracer = "jitaccess.activation"

// Activator drives the activation lifecycle. It is stateless: self-approval
// requests live only for the duration of one call, and multi-party requests
// are reconstructed from the signed approval token on every attempt.
type Activator struct {
	catalog   *catalog.Catalog
	engine    *provision.Engine
	policy    JustificationPolicy
	tokens    *token.Service
	templates *notify.Templates
	mail      notify.Sink
	events    *notify.EventSink
	auditor   audit.Logger
	baseURL   string
	clock     func() time.Time
	logger    *slog.Logger
}

// NewActivator wires the activator's collaborators. baseURL is the external
// address reviewers open to act on a request.
func NewActivator(
	cat *catalog.Catalog,
	engine *provision.Engine,
	policy JustificationPolicy,
	tokens *token.Service,
	templates *notify.Templates,
	mail notify.Sink,
	events *notify.EventSink,
	auditor audit.Logger,
	baseURL string,
) *Activator {
	return &Activator{
		catalog:   cat,
		engine:    engine,
		policy:    policy,
		tokens:    tokens,
		templates: templates,
		mail:      mail,
		events:    events,
		auditor:   auditor,
		baseURL:   baseURL,
		clock:     time.Now,
		logger:    slog.Default().With("component", "activation"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Activator) WithClock(clock func() time.Time) *Activator {
	a.clock = clock
	return a
}

// NewSelfApprovalRequest builds a self-approval request starting now.
func (a *Activator) NewSelfApprovalRequest(user resources.UserEmail, privileges []resources.ProjectRole,
	justification string, duration time.Duration) (*Request, error) {

	privileges = dedupePrivileges(privileges)
	if err := validateShape(user, privileges, duration); err != nil {
		return nil, err
	}
	return &Request{
		id:             newSelfApprovalID(),
		requestingUser: user,
		privileges:     privileges,
		justification:  justification,
		startTime:      a.clock().UTC().Truncate(time.Second),
		duration:       duration,
		activationType: condition.ActivationType{Kind: condition.SelfApproval},
	}, nil
}

// SelfApprove validates the request and provisions one temporary binding
// per privilege. Each role is one optimistic-CAS transaction; there is no
// atomicity across roles, and a successful write stands even if a later
// one fails.
func (a *Activator) SelfApprove(ctx context.Context, req *Request) error {
	ctx, span := otel.Tracer(activatorTracer).Start(ctx, "SelfApprove",
		trace.WithAttributes(attribute.String("activation.id", req.id)))
	defer span.End()

	if req.activationType.Kind != condition.SelfApproval {
		return apperr.New(apperr.InvalidArgument, "not a self-approval request")
	}
	if err := a.policy.Validate(req.justification, req.requestingUser); err != nil {
		return err
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, req); err != nil {
		return err
	}

	description := fmt.Sprintf("Self-approved, justification: %s", req.justification)
	if err := a.provision(ctx, req.requestingUser, req.privileges, req.Span(), description,
		provision.PurgeExistingTemporaryBindings); err != nil {
		return err
	}

	a.recordAudit(ctx, req, "activation.self-approve", map[string]any{
		"justification": req.justification,
		"start":         req.startTime.Format(time.RFC3339),
		"end":           req.EndTime().Format(time.RFC3339),
	})
	a.publishEvents(ctx, req, notify.EventSelfApproved)
	return nil
}

// NewMpaRequest builds a multi-party request for a single privilege. The
// requested activation type is the requester's own eligibility for the
// privilege, which must be a multi-party one.
func (a *Activator) NewMpaRequest(ctx context.Context, user resources.UserEmail, privilege resources.ProjectRole,
	reviewers []resources.UserEmail, justification string, duration time.Duration) (*MpaRequest, error) {

	if err := validateShape(user, []resources.ProjectRole{privilege}, duration); err != nil {
		return nil, err
	}

	activationType, err := a.requestedType(ctx, user, privilege)
	if err != nil {
		return nil, err
	}

	return &MpaRequest{
		Request: Request{
			id:             newMpaID(),
			requestingUser: user,
			privileges:     []resources.ProjectRole{privilege},
			justification:  justification,
			startTime:      a.clock().UTC().Truncate(time.Second),
			duration:       duration,
			activationType: activationType,
		},
		reviewers: dedupeReviewers(reviewers),
	}, nil
}

// RequestMpa validates the request, signs it into an approval token, and
// notifies the reviewers. The obfuscated token is returned for the API
// response; no request state is retained.
func (a *Activator) RequestMpa(ctx context.Context, req *MpaRequest) (string, error) {
	ctx, span := otel.Tracer(activatorTracer).Start(ctx, "RequestMpa",
		trace.WithAttributes(attribute.String("activation.id", req.id)))
	defer span.End()

	if err := a.policy.Validate(req.justification, req.requestingUser); err != nil {
		return "", err
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, req); err != nil {
		return "", err
	}

	signed, err := a.tokens.Sign(ctx, claimsFromRequest(req))
	if err != nil {
		return "", err
	}
	obfuscated := token.Obfuscate(signed)

	a.notifyReviewers(ctx, req, obfuscated)
	a.recordAudit(ctx, req, "activation.request", map[string]any{
		"justification": req.justification,
		"reviewers":     emailStrings(req.reviewers),
		"start":         req.startTime.Format(time.RFC3339),
		"end":           req.EndTime().Format(time.RFC3339),
	})
	a.publishEvents(ctx, req, notify.EventRequested)
	return obfuscated, nil
}

// DescribeToken verifies an obfuscated approval token and returns the
// request it carries. It grants nothing.
func (a *Activator) DescribeToken(ctx context.Context, obfuscated string) (*MpaRequest, error) {
	return a.decodeToken(ctx, obfuscated)
}

// ApproveMpa verifies the token, re-authorizes the approver against the
// live catalog, and provisions the binding. Two concurrent approvals of the
// same token are safe: provisioning fails fast on an identical existing
// binding, so at most one write takes effect.
func (a *Activator) ApproveMpa(ctx context.Context, approver resources.UserEmail, obfuscated string) (*MpaRequest, error) {
	ctx, span := otel.Tracer(activatorTracer).Start(ctx, "ApproveMpa")
	defer span.End()

	req, err := a.decodeToken(ctx, obfuscated)
	if err != nil {
		return nil, err
	}
	if !containsReviewer(req.reviewers, approver) && approver != req.requestingUser {
		return nil, apperr.New(apperr.AccessDenied, "user %s is not a reviewer of this request", approver)
	}
	if err := a.policy.Validate(req.justification, req.requestingUser); err != nil {
		return nil, err
	}
	if err := a.catalog.VerifyUserCanApprove(ctx, approver, req); err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Approved by %s, justification: %s", approver.Email, req.justification)
	if err := a.provision(ctx, req.requestingUser, req.privileges, req.Span(), description,
		provision.PurgeExistingTemporaryBindings|provision.FailIfBindingExists); err != nil {
		return nil, err
	}

	a.recordAudit(ctx, req, "activation.approve", map[string]any{
		"approver":      approver.Email,
		"justification": req.justification,
		"start":         req.startTime.Format(time.RFC3339),
		"end":           req.EndTime().Format(time.RFC3339),
	})
	a.notifyApproved(ctx, req, approver)
	a.publishEvents(ctx, req, notify.EventApproved)
	return req, nil
}

// decodeToken deobfuscates and verifies a token, reconstructs the request,
// and re-derives the activation type from the beneficiary's current
// eligibility. A beneficiary whose eligibility was revoked since issuance
// is denied here.
func (a *Activator) decodeToken(ctx context.Context, obfuscated string) (*MpaRequest, error) {
	compact, err := token.Deobfuscate(obfuscated)
	if err != nil {
		return nil, err
	}
	claims, err := a.tokens.Verify(ctx, compact)
	if err != nil {
		return nil, err
	}

	// The type is not trusted from the token; it is re-derived from the
	// beneficiary's live eligibility.
	req, err := requestFromClaims(claims, condition.ActivationType{Kind: condition.PeerApproval})
	if err != nil {
		return nil, err
	}
	activationType, err := a.requestedType(ctx, req.requestingUser, req.Privilege())
	if err != nil {
		return nil, err
	}
	req.activationType = activationType
	return req, nil
}

// requestedType resolves user's multi-party eligibility for privilege.
func (a *Activator) requestedType(ctx context.Context, user resources.UserEmail, privilege resources.ProjectRole) (condition.ActivationType, error) {
	set, err := a.catalog.ListPrivileges(ctx, user, privilege.Project)
	if err != nil {
		return condition.ActivationType{}, err
	}
	available, ok := set.AvailableType(privilege)
	if !ok {
		return condition.ActivationType{}, apperr.New(apperr.AccessDenied,
			"user %s is not eligible to activate %s", user, privilege.ID())
	}
	if available.Kind != condition.PeerApproval && available.Kind != condition.ExternalApproval {
		return condition.ActivationType{}, apperr.New(apperr.AccessDenied,
			"%s cannot be activated with multi-party approval", privilege.ID())
	}
	return available, nil
}

// provision writes one binding per privilege, preserving each eligibility's
// resource condition behind the temporary window.
func (a *Activator) provision(ctx context.Context, user resources.UserEmail, privileges []resources.ProjectRole,
	span resources.TimeSpan, description string, opts provision.Option) error {

	conditions := make(map[resources.ProjectRole]string, len(privileges))
	byProject := make(map[resources.ProjectID]bool)
	for _, privilege := range privileges {
		if byProject[privilege.Project] {
			continue
		}
		byProject[privilege.Project] = true
		set, err := a.catalog.ListPrivileges(ctx, user, privilege.Project)
		if err != nil {
			return err
		}
		for _, p := range set.Available {
			conditions[p.ID] = p.ResourceCondition
		}
	}

	for _, privilege := range privileges {
		binding := &provision.Binding{
			Role:    privilege.Role,
			Members: []string{user.IAMMember()},
			Condition: &condition.Expr{
				Title:       condition.ActivationTitle,
				Description: description,
				Expression:  condition.NewTemporaryExpression(span, conditions[privilege]),
			},
		}
		if err := a.engine.AddProjectBinding(ctx, privilege.Project, binding, opts, description); err != nil {
			return err
		}
	}
	return nil
}

func (a *Activator) notifyReviewers(ctx context.Context, req *MpaRequest, obfuscated string) {
	privilege := req.Privilege()
	subject, body, err := a.templates.Render(notify.TemplateRequestActivation, notify.TemplateData{
		Requestor:     req.requestingUser.Email,
		Role:          privilege.Role,
		Project:       privilege.Project.ID,
		Justification: req.justification,
		Start:         req.startTime.Format(time.RFC3339),
		End:           req.EndTime().Format(time.RFC3339),
		ActionURL:     fmt.Sprintf("%s/activation-request?activation=%s", a.baseURL, obfuscated),
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "rendering the reviewer notification failed", "error", err)
		return
	}
	msg := notify.Message{
		To:      req.reviewers,
		CC:      []resources.UserEmail{req.requestingUser},
		Subject: subject,
		Body:    body,
	}
	if err := a.mail.Send(ctx, msg); err != nil {
		a.logger.ErrorContext(ctx, "delivering the reviewer notification failed", "error", err)
	}
}

func (a *Activator) notifyApproved(ctx context.Context, req *MpaRequest, approver resources.UserEmail) {
	privilege := req.Privilege()
	subject, body, err := a.templates.Render(notify.TemplateActivationApproved, notify.TemplateData{
		Requestor:     req.requestingUser.Email,
		Approver:      approver.Email,
		Role:          privilege.Role,
		Project:       privilege.Project.ID,
		Justification: req.justification,
		Start:         req.startTime.Format(time.RFC3339),
		End:           req.EndTime().Format(time.RFC3339),
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "rendering the approval notification failed", "error", err)
		return
	}
	msg := notify.Message{
		To:      []resources.UserEmail{req.requestingUser},
		CC:      req.reviewers,
		Subject: subject,
		Body:    body,
	}
	if err := a.mail.Send(ctx, msg); err != nil {
		a.logger.ErrorContext(ctx, "delivering the approval notification failed", "error", err)
	}
}

func (a *Activator) publishEvents(ctx context.Context, req catalog.Request, eventType string) {
	if a.events == nil {
		return
	}
	for _, privilege := range req.Privileges() {
		a.events.Publish(ctx, notify.Event{
			Type:        eventType,
			Beneficiary: req.RequestingUser().Email,
			Role:        privilege.Role,
			Project:     privilege.Project.ID,
			StartTime:   req.StartTime(),
			EndTime:     req.EndTime(),
		})
	}
}

func (a *Activator) recordAudit(ctx context.Context, req catalog.Request, action string, metadata map[string]any) {
	if a.auditor == nil {
		return
	}
	for _, privilege := range req.Privileges() {
		meta := make(map[string]any, len(metadata)+1)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["activation_id"] = req.ID()
		if err := a.auditor.Record(ctx, audit.EventActivation, req.RequestingUser().Email, action, privilege.ID(), meta); err != nil {
			a.logger.ErrorContext(ctx, "recording the audit event failed", "error", err)
		}
	}
}

func containsReviewer(reviewers []resources.UserEmail, user resources.UserEmail) bool {
	for _, r := range reviewers {
		if r == user {
			return true
		}
	}
	return false
}

func emailStrings(users []resources.UserEmail) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Email)
	}
	return out
}
