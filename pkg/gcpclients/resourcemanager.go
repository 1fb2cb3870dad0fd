package gcpclients

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/Mindburn-Labs/jitaccess/pkg/provision"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

const resourceManagerEndpoint = "https://cloudresourcemanager.googleapis.com/v3"

// ResourceManagerClient reads and writes project IAM policies and searches
// projects. It backs both the provisioning engine and query-based scope
// listing.
type ResourceManagerClient struct {
	rest *restClient
}

// NewResourceManagerClient creates a Resource Manager adapter on httpClient.
func NewResourceManagerClient(httpClient *http.Client) *ResourceManagerClient {
	return &ResourceManagerClient{rest: newRESTClient(httpClient, "cloudresourcemanager")}
}

// GetProjectPolicy reads the project policy at the conditions-capable
// version.
func (c *ResourceManagerClient) GetProjectPolicy(ctx context.Context, project resources.ProjectID, requestReason string) (*provision.Policy, error) {
	request := struct {
		Options struct {
			RequestedPolicyVersion int `json:"requestedPolicyVersion"`
		} `json:"options"`
	}{}
	request.Options.RequestedPolicyVersion = provision.PolicyVersion

	var policy provision.Policy
	err := c.rest.do(ctx, http.MethodPost,
		resourceManagerEndpoint+"/"+project.Path()+":getIamPolicy",
		&request, &policy, requestReason)
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// SetProjectPolicy writes the policy back. The embedded etag makes the
// write conditional; a mismatch surfaces as a conflict IsConflict
// recognizes.
func (c *ResourceManagerClient) SetProjectPolicy(ctx context.Context, project resources.ProjectID, policy *provision.Policy, requestReason string) error {
	request := struct {
		Policy *provision.Policy `json:"policy"`
	}{Policy: policy}

	return c.rest.do(ctx, http.MethodPost,
		resourceManagerEndpoint+"/"+project.Path()+":setIamPolicy",
		&request, nil, requestReason)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func (c *ResourceManagerClient) IsConflict(err error) bool {
	return errors.Is(err, errEtagConflict)
}

// SearchProjects returns the projects matching a Resource Manager search
// query, following pagination.
func (c *ResourceManagerClient) SearchProjects(ctx context.Context, query string) ([]resources.ProjectID, error) {
	var projects []resources.ProjectID
	pageToken := ""
	for {
		params := url.Values{"query": {query}}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page struct {
			Projects []struct {
				ProjectID string `json:"projectId"`
				State     string `json:"state"`
			} `json:"projects"`
			NextPageToken string `json:"nextPageToken"`
		}
		err := c.rest.do(ctx, http.MethodGet,
			resourceManagerEndpoint+"/projects:search?"+params.Encode(),
			nil, &page, "")
		if err != nil {
			return nil, err
		}

		for _, p := range page.Projects {
			if p.State != "ACTIVE" {
				continue
			}
			if project, err := resources.NewProjectID(p.ProjectID); err == nil {
				projects = append(projects, project)
			}
		}
		if page.NextPageToken == "" {
			return resources.SortProjectIDs(projects), nil
		}
		pageToken = page.NextPageToken
	}
}
