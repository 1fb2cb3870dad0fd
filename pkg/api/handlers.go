package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/jitaccess/pkg/activation"
	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/auth"
	"github.com/Mindburn-Labs/jitaccess/pkg/catalog"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// maxBodyBytes caps request bodies; every payload the API accepts is tiny.
const maxBodyBytes = 1 << 20

// Handlers implements the REST surface on the catalog and the activator.
type Handlers struct {
	catalog        *catalog.Catalog
	activator      *activation.Activator
	hint           string
	version        string
	defaultMinutes int
	maxMinutes     int
}

// NewHandlers wires the handler set. defaultMinutes and maxMinutes surface
// in the metadata endpoint as the client's duration slider bounds.
func NewHandlers(cat *catalog.Catalog, activator *activation.Activator, hint, version string,
	defaultMinutes, maxMinutes int) *Handlers {
	return &Handlers{
		catalog:        cat,
		activator:      activator,
		hint:           hint,
		version:        version,
		defaultMinutes: defaultMinutes,
		maxMinutes:     maxMinutes,
	}
}

type metadataResponse struct {
	JustificationHint        string `json:"justificationHint"`
	SignedInUser             string `json:"signedInUser"`
	ApplicationVersion       string `json:"applicationVersion"`
	DefaultActivationTimeout int    `json:"defaultActivationTimeout"`
	MaxActivationTimeout     int    `json:"maxActivationTimeout"`
}

// Metadata returns the client bootstrap information.
func (h *Handlers) Metadata(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, metadataResponse{
		JustificationHint:        h.hint,
		SignedInUser:             user.Email,
		ApplicationVersion:       h.version,
		DefaultActivationTimeout: h.defaultMinutes,
		MaxActivationTimeout:     h.maxMinutes,
	})
}

type projectsResponse struct {
	Projects []string `json:"projects"`
}

// ListProjects returns the caller's scopes.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	projects, err := h.catalog.ListScopes(r.Context(), user)
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	response := projectsResponse{Projects: make([]string, 0, len(projects))}
	for _, p := range projects {
		response.Projects = append(response.Projects, p.ID)
	}
	WriteJSON(w, http.StatusOK, response)
}

type roleResponse struct {
	Role           string `json:"role"`
	ActivationType string `json:"activationType"`
	Status         string `json:"status"`
	StartTime      string `json:"startTime,omitempty"`
	EndTime        string `json:"endTime,omitempty"`
}

type rolesResponse struct {
	Roles    []roleResponse `json:"roles"`
	Warnings []string       `json:"warnings,omitempty"`
}

// ListRoles returns the caller's privileges on a project.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	project, err := resources.NewProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		WriteProblem(w, r, err)
		return
	}

	set, err := h.catalog.ListPrivileges(r.Context(), user, project)
	if err != nil {
		WriteProblem(w, r, err)
		return
	}

	response := rolesResponse{Warnings: set.Warnings}
	for _, p := range set.Privileges() {
		role := roleResponse{
			Role:           p.ID.Role,
			ActivationType: p.ActivationType.String(),
			Status:         p.Status.String(),
		}
		if act, ok := set.Active[p.ID]; ok {
			role.StartTime = act.Span.Start.Format(time.RFC3339)
			role.EndTime = act.Span.End.Format(time.RFC3339)
		} else if act, ok := set.Expired[p.ID]; ok {
			role.StartTime = act.Span.Start.Format(time.RFC3339)
			role.EndTime = act.Span.End.Format(time.RFC3339)
		}
		response.Roles = append(response.Roles, role)
	}
	WriteJSON(w, http.StatusOK, response)
}

type peersResponse struct {
	Peers []string `json:"peers"`
}

// ListPeers returns who can review an activation of the given role.
func (h *Handlers) ListPeers(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	project, err := resources.NewProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		WriteProblem(w, r, apperr.New(apperr.InvalidArgument, "the role query parameter is required"))
		return
	}

	reviewers, err := h.catalog.ListReviewers(r.Context(), user, resources.NewProjectRole(project, role))
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	response := peersResponse{Peers: make([]string, 0, len(reviewers))}
	for _, reviewer := range reviewers {
		response.Peers = append(response.Peers, reviewer.Email)
	}
	WriteJSON(w, http.StatusOK, response)
}

type selfActivateRequest struct {
	Roles         []string `json:"roles"`
	Duration      int      `json:"duration"`
	Justification string   `json:"justification"`
}

type activationResponse struct {
	ID            string         `json:"id"`
	Beneficiary   string         `json:"beneficiary"`
	Justification string         `json:"justification"`
	StartTime     string         `json:"startTime"`
	EndTime       string         `json:"endTime"`
	Roles         []roleResponse `json:"roles"`
	Reviewers     []string       `json:"reviewers,omitempty"`
	Token         string         `json:"token,omitempty"`
}

// SelfActivate activates one or more self-approvable roles for the caller.
func (h *Handlers) SelfActivate(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	project, err := resources.NewProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		WriteProblem(w, r, err)
		return
	}

	var body selfActivateRequest
	if err := decodeBody(w, r, &body); err != nil {
		WriteProblem(w, r, err)
		return
	}

	privileges := make([]resources.ProjectRole, 0, len(body.Roles))
	for _, role := range body.Roles {
		privileges = append(privileges, resources.NewProjectRole(project, role))
	}

	req, err := h.activator.NewSelfApprovalRequest(user, privileges, body.Justification,
		time.Duration(body.Duration)*time.Minute)
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	if err := h.activator.SelfApprove(r.Context(), req); err != nil {
		WriteProblem(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, activationOf(req, "", statusActive))
}

type mpaRequestBody struct {
	Role          string   `json:"role"`
	Duration      int      `json:"duration"`
	Reviewers     []string `json:"reviewers"`
	Justification string   `json:"justification"`
}

// RequestActivation raises a multi-party request and mails the reviewers.
func (h *Handlers) RequestActivation(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	project, err := resources.NewProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		WriteProblem(w, r, err)
		return
	}

	var body mpaRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		WriteProblem(w, r, err)
		return
	}

	reviewers := make([]resources.UserEmail, 0, len(body.Reviewers))
	for _, email := range body.Reviewers {
		reviewer, err := resources.NewUserEmail(email)
		if err != nil {
			WriteProblem(w, r, apperr.New(apperr.InvalidArgument, "invalid reviewer address %q", email))
			return
		}
		reviewers = append(reviewers, reviewer)
	}

	req, err := h.activator.NewMpaRequest(r.Context(), user, resources.NewProjectRole(project, body.Role),
		reviewers, body.Justification, time.Duration(body.Duration)*time.Minute)
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	obfuscated, err := h.activator.RequestMpa(r.Context(), req)
	if err != nil {
		WriteProblem(w, r, err)
		return
	}

	response := activationOf(&req.Request, obfuscated, statusRequested)
	response.Reviewers = emails(req.Reviewers())
	WriteJSON(w, http.StatusOK, response)
}

// DescribeActivationRequest decodes an approval token without granting
// anything.
func (h *Handlers) DescribeActivationRequest(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetPrincipal(r.Context()); err != nil {
		WriteProblem(w, r, err)
		return
	}
	obfuscated := r.URL.Query().Get("activation")
	if obfuscated == "" {
		WriteProblem(w, r, apperr.New(apperr.InvalidArgument, "the activation query parameter is required"))
		return
	}

	req, err := h.activator.DescribeToken(r.Context(), obfuscated)
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	response := activationOf(&req.Request, "", statusRequested)
	response.Reviewers = emails(req.Reviewers())
	WriteJSON(w, http.StatusOK, response)
}

type approveRequest struct {
	Activation string `json:"activation"`
}

// ApproveActivationRequest approves a multi-party request carried by a
// token and provisions the binding.
func (h *Handlers) ApproveActivationRequest(w http.ResponseWriter, r *http.Request) {
	approver, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, err)
		return
	}

	var body approveRequest
	if err := decodeBody(w, r, &body); err != nil {
		WriteProblem(w, r, err)
		return
	}
	if body.Activation == "" {
		WriteProblem(w, r, apperr.New(apperr.InvalidArgument, "the request carries no approval token"))
		return
	}

	req, err := h.activator.ApproveMpa(r.Context(), approver, body.Activation)
	if err != nil {
		WriteProblem(w, r, err)
		return
	}
	response := activationOf(&req.Request, "", statusActive)
	response.Reviewers = emails(req.Reviewers())
	WriteJSON(w, http.StatusOK, response)
}

const (
	statusRequested = "ACTIVATION_REQUESTED"
	statusActive    = "ACTIVE"
)

func activationOf(req *activation.Request, token, status string) activationResponse {
	response := activationResponse{
		ID:            req.ID(),
		Beneficiary:   req.RequestingUser().Email,
		Justification: req.Justification(),
		StartTime:     req.StartTime().Format(time.RFC3339),
		EndTime:       req.EndTime().Format(time.RFC3339),
		Token:         token,
	}
	for _, p := range req.Privileges() {
		response.Roles = append(response.Roles, roleResponse{
			Role:           p.Role,
			ActivationType: req.Type().String(),
			Status:         status,
			StartTime:      response.StartTime,
			EndTime:        response.EndTime,
		})
	}
	return response
}

func emails(users []resources.UserEmail) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Email)
	}
	return out
}

// decodeBody parses a JSON body with the size cap applied. Oversized and
// malformed payloads both map to InvalidArgument.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.New(apperr.InvalidArgument, "the request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Wrap(apperr.InvalidArgument, err, "the request body is not valid JSON")
	}
	return nil
}
