package gcpclients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

const cloudIdentityEndpoint = "https://cloudidentity.googleapis.com/v1"

// CloudIdentityClient resolves group memberships through the Cloud Identity
// Groups API. It backs the effective-policy catalog, which has to expand
// groups itself.
type CloudIdentityClient struct {
	rest *restClient
}

// NewCloudIdentityClient creates a Cloud Identity adapter on httpClient.
func NewCloudIdentityClient(httpClient *http.Client) *CloudIdentityClient {
	return &CloudIdentityClient{rest: newRESTClient(httpClient, "cloudidentity")}
}

// ListDirectGroups returns the email addresses of the groups user is a
// direct member of. Groups of an external tenant surface as AccessDenied;
// the caller decides whether that is fatal.
func (c *CloudIdentityClient) ListDirectGroups(ctx context.Context, user resources.UserEmail) ([]string, error) {
	var groups []string
	pageToken := ""
	for {
		params := url.Values{
			"query": {fmt.Sprintf("member_key_id == '%s'", user.Email)},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page struct {
			Memberships []struct {
				GroupKey struct {
					ID string `json:"id"`
				} `json:"groupKey"`
			} `json:"memberships"`
			NextPageToken string `json:"nextPageToken"`
		}
		err := c.rest.do(ctx, http.MethodGet,
			cloudIdentityEndpoint+"/groups/-/memberships:searchDirectGroups?"+params.Encode(),
			nil, &page, "")
		if err != nil {
			return nil, err
		}

		for _, m := range page.Memberships {
			if m.GroupKey.ID != "" {
				groups = append(groups, strings.ToLower(m.GroupKey.ID))
			}
		}
		if page.NextPageToken == "" {
			return groups, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListGroupMembers returns the user members of a group. Nested groups are
// not expanded.
func (c *CloudIdentityClient) ListGroupMembers(ctx context.Context, groupEmail string) ([]resources.UserEmail, error) {
	name, err := c.lookupGroup(ctx, groupEmail)
	if err != nil {
		return nil, err
	}

	var members []resources.UserEmail
	pageToken := ""
	for {
		params := url.Values{}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page struct {
			Memberships []struct {
				PreferredMemberKey struct {
					ID string `json:"id"`
				} `json:"preferredMemberKey"`
				Type string `json:"type"`
			} `json:"memberships"`
			NextPageToken string `json:"nextPageToken"`
		}
		endpoint := cloudIdentityEndpoint + "/" + name + "/memberships"
		if encoded := params.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
		if err := c.rest.do(ctx, http.MethodGet, endpoint, nil, &page, ""); err != nil {
			return nil, err
		}

		for _, m := range page.Memberships {
			if m.Type != "" && m.Type != "USER" {
				continue
			}
			if member, err := resources.NewUserEmail(m.PreferredMemberKey.ID); err == nil {
				members = append(members, member)
			}
		}
		if page.NextPageToken == "" {
			return members, nil
		}
		pageToken = page.NextPageToken
	}
}

// lookupGroup resolves a group email to its resource name.
func (c *CloudIdentityClient) lookupGroup(ctx context.Context, groupEmail string) (string, error) {
	params := url.Values{"groupKey.id": {groupEmail}}

	var response struct {
		Name string `json:"name"`
	}
	err := c.rest.do(ctx, http.MethodGet,
		cloudIdentityEndpoint+"/groups:lookup?"+params.Encode(),
		nil, &response, "")
	if err != nil {
		return "", err
	}
	return response.Name, nil
}
