// Package inference calls the hosted pneumonia classifier and turns its raw
// output into a labelled result.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"

	"github.com/pneumoscan/pneumoscan/internal/imaging"
	"github.com/pneumoscan/pneumoscan/internal/model"
)

// Threshold is the probability above which a scan is labelled Pneumonia.
const Threshold = 0.5

const contentTypeJSON = "application/json"

var (
	// ErrInferenceUnavailable indicates the endpoint could not be reached or
	// returned an error.
	ErrInferenceUnavailable = errors.New("inference endpoint unavailable")
	// ErrInferenceResponseMalformed indicates the endpoint answered with a body
	// that is not a JSON object.
	ErrInferenceResponseMalformed = errors.New("inference response malformed")
)

// InvokeEndpointAPI is the subset of the SageMaker runtime client used here.
type InvokeEndpointAPI interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// Result is the classifier verdict for one image.
type Result struct {
	Label      model.Label
	Confidence float64
}

// Gateway sends tensors to a SageMaker endpoint.
type Gateway struct {
	client   InvokeEndpointAPI
	endpoint string
	logger   *slog.Logger
}

// NewGateway creates a Gateway bound to the named endpoint.
func NewGateway(client InvokeEndpointAPI, endpoint string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client:   client,
		endpoint: endpoint,
		logger:   logger.With("component", "inference"),
	}
}

type request struct {
	Instances []imaging.Tensor `json:"instances"`
}

type response struct {
	Predictions json.RawMessage `json:"predictions"`
}

// Predict invokes the endpoint once with a single-instance batch.
func (g *Gateway) Predict(ctx context.Context, tensor imaging.Tensor) (Result, error) {
	body, err := json.Marshal(request{Instances: []imaging.Tensor{tensor}})
	if err != nil {
		return Result{}, fmt.Errorf("encode inference request: %w", err)
	}

	out, err := g.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(g.endpoint),
		Body:         body,
		ContentType:  aws.String(contentTypeJSON),
		Accept:       aws.String(contentTypeJSON),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
	}

	result, err := ParseResponse(out.Body)
	if err != nil {
		return Result{}, err
	}

	g.logger.DebugContext(ctx, "inference completed",
		"endpoint", g.endpoint,
		"label", result.Label,
		"confidence", result.Confidence,
	)
	return result, nil
}

// ParseResponse decodes a `{"predictions": [[p]]}` body. Anything other than
// a single probability in [0, 1] at predictions[0] yields an Unknown result.
func ParseResponse(body []byte) (Result, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInferenceResponseMalformed, err)
	}

	var predictions []json.RawMessage
	if err := json.Unmarshal(resp.Predictions, &predictions); err != nil || len(predictions) == 0 {
		return unknown(), nil
	}

	var first []float64
	if err := json.Unmarshal(predictions[0], &first); err != nil || len(first) != 1 {
		return unknown(), nil
	}

	return Classify(first[0]), nil
}

// Classify applies the decision threshold to probability p.
func Classify(p float64) Result {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return unknown()
	}
	if p > Threshold {
		return Result{Label: model.LabelPneumonia, Confidence: p}
	}
	return Result{Label: model.LabelNormal, Confidence: p}
}

func unknown() Result {
	return Result{Label: model.LabelUnknown, Confidence: 0}
}
