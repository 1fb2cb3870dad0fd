package gcpclients

import (
	"context"
	"encoding/base64"
	"net/http"
)

const pubsubEndpoint = "https://pubsub.googleapis.com/v1"

// PubSubPublisher publishes activation events to a Pub/Sub topic. The topic
// is a full resource name, projects/<id>/topics/<name>.
type PubSubPublisher struct {
	rest  *restClient
	topic string
}

// NewPubSubPublisher creates a publisher for topic.
func NewPubSubPublisher(httpClient *http.Client, topic string) *PubSubPublisher {
	return &PubSubPublisher{
		rest:  newRESTClient(httpClient, "pubsub"),
		topic: topic,
	}
}

// Publish sends one message.
func (p *PubSubPublisher) Publish(ctx context.Context, payload []byte) error {
	request := struct {
		Messages []struct {
			Data string `json:"data"`
		} `json:"messages"`
	}{
		Messages: []struct {
			Data string `json:"data"`
		}{
			{Data: base64.StdEncoding.EncodeToString(payload)},
		},
	}

	return p.rest.do(ctx, http.MethodPost,
		pubsubEndpoint+"/"+p.topic+":publish",
		&request, nil, "")
}
