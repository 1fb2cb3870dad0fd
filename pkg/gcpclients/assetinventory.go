package gcpclients

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/Mindburn-Labs/jitaccess/pkg/catalog"
	"github.com/Mindburn-Labs/jitaccess/pkg/condition"
	"github.com/Mindburn-Labs/jitaccess/pkg/provision"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

const assetInventoryEndpoint = "https://cloudasset.googleapis.com/v1"

// AssetInventoryClient adapts the Cloud Asset API. It serves both catalog
// backends: analyzeIamPolicy for the personalized analyzer and
// effectiveIamPolicies:batchGet for raw effective policies.
type AssetInventoryClient struct {
	rest *restClient
}

// NewAssetInventoryClient creates an Asset Inventory adapter on httpClient.
func NewAssetInventoryClient(httpClient *http.Client) *AssetInventoryClient {
	return &AssetInventoryClient{rest: newRESTClient(httpClient, "cloudasset")}
}

// Wire shapes of the analyzeIamPolicy response, reduced to the fields the
// catalog consumes.
type analyzeResponse struct {
	MainAnalysis analysis `json:"mainAnalysis"`
}

type analysis struct {
	AnalysisResults []analysisResult `json:"analysisResults"`
}

type analysisResult struct {
	AttachedResourceFullName string   `json:"attachedResourceFullName"`
	IAMBinding               binding  `json:"iamBinding"`
	AccessControlLists       []acl    `json:"accessControlLists"`
	IdentityList             identity `json:"identityList"`
}

type binding struct {
	Role      string   `json:"role"`
	Members   []string `json:"members"`
	Condition *struct {
		Expression  string `json:"expression"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"condition"`
}

type acl struct {
	Resources []struct {
		FullResourceName string `json:"fullResourceName"`
	} `json:"resources"`
	ConditionEvaluation *struct {
		EvaluationValue string `json:"evaluationValue"`
	} `json:"conditionEvaluation"`
}

type identity struct {
	Identities []struct {
		Name string `json:"name"`
	} `json:"identities"`
}

// FindAccessibleResourcesByUser runs a permission-selector analysis for
// user under scope.
func (c *AssetInventoryClient) FindAccessibleResourcesByUser(ctx context.Context, scope string, user resources.UserEmail,
	permission string, expandResources bool) ([]catalog.AnalysisResult, error) {

	params := url.Values{
		"analysisQuery.identitySelector.identity":  {user.IAMMember()},
		"analysisQuery.accessSelector.permissions": {permission},
	}
	if expandResources {
		params.Set("analysisQuery.options.expandResources", "true")
	}

	response, err := c.analyze(ctx, scope, params)
	if err != nil {
		return nil, err
	}
	return flattenResults(response), nil
}

// FindRoleBindingsByUser returns every binding under scope that could apply
// to user on fullResourceName, with per-resource condition verdicts.
func (c *AssetInventoryClient) FindRoleBindingsByUser(ctx context.Context, scope string, user resources.UserEmail,
	fullResourceName string) ([]catalog.AnalysisResult, error) {

	params := url.Values{
		"analysisQuery.identitySelector.identity":         {user.IAMMember()},
		"analysisQuery.resourceSelector.fullResourceName": {fullResourceName},
		"analysisQuery.options.expandResources":           {"false"},
	}

	response, err := c.analyze(ctx, scope, params)
	if err != nil {
		return nil, err
	}
	return flattenResults(response), nil
}

// FindPrincipalsWithRole returns the group-expanded principals holding role
// on fullResourceName, with the condition gating each grant.
func (c *AssetInventoryClient) FindPrincipalsWithRole(ctx context.Context, scope string,
	fullResourceName, role string) ([]catalog.PrincipalResult, error) {

	params := url.Values{
		"analysisQuery.resourceSelector.fullResourceName": {fullResourceName},
		"analysisQuery.accessSelector.roles":              {role},
		"analysisQuery.options.expandGroups":              {"true"},
	}

	response, err := c.analyze(ctx, scope, params)
	if err != nil {
		return nil, err
	}

	var principals []catalog.PrincipalResult
	for _, result := range response.MainAnalysis.AnalysisResults {
		expr := conditionOf(result.IAMBinding)
		for _, id := range result.IdentityList.Identities {
			if !strings.HasPrefix(id.Name, "user:") {
				continue
			}
			user, err := resources.NewUserEmail(strings.TrimPrefix(id.Name, "user:"))
			if err != nil {
				continue
			}
			principals = append(principals, catalog.PrincipalResult{
				Principal: user,
				Condition: expr,
			})
		}
	}
	return principals, nil
}

func (c *AssetInventoryClient) analyze(ctx context.Context, scope string, params url.Values) (*analyzeResponse, error) {
	var response analyzeResponse
	err := c.rest.do(ctx, http.MethodGet,
		assetInventoryEndpoint+"/"+scope+":analyzeIamPolicy?"+params.Encode(),
		nil, &response, "")
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// flattenResults turns one analysis result per binding into one catalog
// result per (binding, resource) pair, attaching the verdict of the access
// control list covering that resource.
func flattenResults(response *analyzeResponse) []catalog.AnalysisResult {
	var out []catalog.AnalysisResult
	for _, result := range response.MainAnalysis.AnalysisResults {
		expr := conditionOf(result.IAMBinding)
		if len(result.AccessControlLists) == 0 {
			out = append(out, catalog.AnalysisResult{
				FullResourceName: result.AttachedResourceFullName,
				Role:             result.IAMBinding.Role,
				Condition:        expr,
				Evaluation:       evaluationOf(nil),
			})
			continue
		}
		for _, list := range result.AccessControlLists {
			verdict := evaluationOf(list.ConditionEvaluation)
			if len(list.Resources) == 0 {
				out = append(out, catalog.AnalysisResult{
					FullResourceName: result.AttachedResourceFullName,
					Role:             result.IAMBinding.Role,
					Condition:        expr,
					Evaluation:       verdict,
				})
				continue
			}
			for _, res := range list.Resources {
				out = append(out, catalog.AnalysisResult{
					FullResourceName: res.FullResourceName,
					Role:             result.IAMBinding.Role,
					Condition:        expr,
					Evaluation:       verdict,
				})
			}
		}
	}
	return out
}

func conditionOf(b binding) *condition.Expr {
	if b.Condition == nil {
		return nil
	}
	return &condition.Expr{
		Title:       b.Condition.Title,
		Description: b.Condition.Description,
		Expression:  b.Condition.Expression,
	}
}

// evaluationOf maps the analyzer verdict. An unconditional binding counts
// as TRUE.
func evaluationOf(eval *struct {
	EvaluationValue string `json:"evaluationValue"`
}) catalog.Evaluation {
	if eval == nil {
		return catalog.EvalTrue
	}
	switch eval.EvaluationValue {
	case "TRUE":
		return catalog.EvalTrue
	case "CONDITIONAL":
		return catalog.EvalConditional
	case "FALSE":
		return catalog.EvalFalse
	default:
		return catalog.EvalUnspecified
	}
}

// GetEffectiveIamPolicies fetches the effective-policy union of project
// under scope.
func (c *AssetInventoryClient) GetEffectiveIamPolicies(ctx context.Context, scope string, project resources.ProjectID) ([]catalog.PolicySnapshot, error) {
	params := url.Values{"names": {project.FullResourceName()}}

	var response struct {
		PolicyResults []struct {
			FullResourceName string `json:"fullResourceName"`
			Policies         []struct {
				AttachedResource string `json:"attachedResource"`
				Policy           struct {
					Bindings []struct {
						Role      string   `json:"role"`
						Members   []string `json:"members"`
						Condition *struct {
							Expression  string `json:"expression"`
							Title       string `json:"title"`
							Description string `json:"description"`
						} `json:"condition"`
					} `json:"bindings"`
				} `json:"policy"`
			} `json:"policies"`
		} `json:"policyResults"`
	}

	err := c.rest.do(ctx, http.MethodGet,
		assetInventoryEndpoint+"/"+scope+"/effectiveIamPolicies:batchGet?"+params.Encode(),
		nil, &response, "")
	if err != nil {
		return nil, err
	}

	var snapshots []catalog.PolicySnapshot
	for _, result := range response.PolicyResults {
		for _, policy := range result.Policies {
			snapshot := catalog.PolicySnapshot{AttachedResource: policy.AttachedResource}
			for _, b := range policy.Policy.Bindings {
				snapshot.Bindings = append(snapshot.Bindings, &provision.Binding{
					Role:      b.Role,
					Members:   b.Members,
					Condition: conditionOf(binding{Role: b.Role, Members: b.Members, Condition: b.Condition}),
				})
			}
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots, nil
}
