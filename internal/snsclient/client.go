package snsclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors forming the remote-call vocabulary consumed by the retry
// controller and the classifier.
var (
	// ErrNotFound: the platform endpoint does not exist. Terminal.
	ErrNotFound = errors.New("endpoint not found")
	// ErrInvalidParameter: the ARN is malformed or rejected. Terminal.
	ErrInvalidParameter = errors.New("invalid endpoint parameter")
	// ErrAuthExpired: the access grant itself is invalid or expired.
	// Infrastructural, not a property of the target endpoint.
	ErrAuthExpired = errors.New("credentials expired or invalid")
)

// EndpointAttributes is the subset of SNS endpoint attributes the
// reconciler cares about.
type EndpointAttributes struct {
	Enabled bool
	Token   string
}

// API is the slice of the SNS client the wrapper uses.
type API interface {
	GetEndpointAttributes(ctx context.Context, params *sns.GetEndpointAttributesInput, optFns ...func(*sns.Options)) (*sns.GetEndpointAttributesOutput, error)
	DeleteEndpoint(ctx context.Context, params *sns.DeleteEndpointInput, optFns ...func(*sns.Options)) (*sns.DeleteEndpointOutput, error)
}

// Client wraps the SNS API and normalizes its errors into the sentinel
// vocabulary above.
type Client struct {
	api API
}

// New builds a Client from an AWS config. Credentials come from whatever
// provider the config carries, so a refreshed grant takes effect without
// rebuilding the client.
func New(cfg aws.Config) *Client {
	return &Client{api: sns.NewFromConfig(cfg)}
}

// NewFromAPI wires an explicit API implementation, used by tests.
func NewFromAPI(api API) *Client {
	return &Client{api: api}
}

// CheckStatus fetches the attributes of one platform endpoint.
func (c *Client) CheckStatus(ctx context.Context, arn string) (EndpointAttributes, error) {
	out, err := c.api.GetEndpointAttributes(ctx, &sns.GetEndpointAttributesInput{
		EndpointArn: aws.String(arn),
	})
	if err != nil {
		return EndpointAttributes{}, mapError(err)
	}

	attrs := EndpointAttributes{}
	if v, ok := out.Attributes["Enabled"]; ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return EndpointAttributes{}, fmt.Errorf("parse Enabled attribute %q: %w", v, err)
		}
		attrs.Enabled = enabled
	}
	attrs.Token = out.Attributes["Token"]
	return attrs, nil
}

// DeleteEndpoint removes one platform endpoint. SNS treats deletion of a
// missing endpoint as success, so ErrNotFound is not expected here in
// practice, but the mapping handles it anyway.
func (c *Client) DeleteEndpoint(ctx context.Context, arn string) error {
	_, err := c.api.DeleteEndpoint(ctx, &sns.DeleteEndpointInput{
		EndpointArn: aws.String(arn),
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// mapError folds AWS SDK errors into the sentinel vocabulary, keeping the
// original error in the chain for logging.
func mapError(err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, aws.ToString(notFound.Message))
	}
	var invalid *types.InvalidParameterException
	if errors.As(err, &invalid) {
		return fmt.Errorf("%w: %s", ErrInvalidParameter, aws.ToString(invalid.Message))
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ExpiredToken", "ExpiredTokenException", "InvalidClientTokenId",
			"UnrecognizedClientException", "RequestExpired":
			return fmt.Errorf("%w: %s", ErrAuthExpired, apiErr.ErrorMessage())
		}
	}
	return err
}
