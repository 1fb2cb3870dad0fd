package gcpclients

import (
	"context"
	"fmt"
	"net/http"
)

const iamCredentialsEndpoint = "https://iamcredentials.googleapis.com/v1"

// IAMCredentialsClient signs approval tokens with the service account's
// cloud-managed key. The private key never leaves the IAM Credentials
// service.
type IAMCredentialsClient struct {
	rest           *restClient
	serviceAccount string
}

// NewIAMCredentialsClient creates a signer for serviceAccount.
func NewIAMCredentialsClient(httpClient *http.Client, serviceAccount string) *IAMCredentialsClient {
	return &IAMCredentialsClient{
		rest:           newRESTClient(httpClient, "iamcredentials"),
		serviceAccount: serviceAccount,
	}
}

// ServiceAccount returns the signing identity's email.
func (c *IAMCredentialsClient) ServiceAccount() string {
	return c.serviceAccount
}

// SignJWT signs the JSON payload and returns the compact JWT.
func (c *IAMCredentialsClient) SignJWT(ctx context.Context, payload []byte) (string, error) {
	request := struct {
		Payload string `json:"payload"`
	}{Payload: string(payload)}

	var response struct {
		SignedJWT string `json:"signedJwt"`
	}
	err := c.rest.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/projects/-/serviceAccounts/%s:signJwt", iamCredentialsEndpoint, c.serviceAccount),
		&request, &response, "")
	if err != nil {
		return "", err
	}
	return response.SignedJWT, nil
}
