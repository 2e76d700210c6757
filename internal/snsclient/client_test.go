package snsclient

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
)

type fakeAPI struct {
	attrs map[string]string
	err   error
}

func (f *fakeAPI) GetEndpointAttributes(context.Context, *sns.GetEndpointAttributesInput, ...func(*sns.Options)) (*sns.GetEndpointAttributesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sns.GetEndpointAttributesOutput{Attributes: f.attrs}, nil
}

func (f *fakeAPI) DeleteEndpoint(context.Context, *sns.DeleteEndpointInput, ...func(*sns.Options)) (*sns.DeleteEndpointOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sns.DeleteEndpointOutput{}, nil
}

func TestCheckStatusParsesAttributes(t *testing.T) {
	client := NewFromAPI(&fakeAPI{attrs: map[string]string{
		"Enabled": "true",
		"Token":   "device-token",
	}})
	attrs, err := client.CheckStatus(context.Background(), "arn:x")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !attrs.Enabled || attrs.Token != "device-token" {
		t.Fatalf("attrs = %+v", attrs)
	}

	client = NewFromAPI(&fakeAPI{attrs: map[string]string{"Enabled": "false"}})
	attrs, err = client.CheckStatus(context.Background(), "arn:x")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if attrs.Enabled || attrs.Token != "" {
		t.Fatalf("attrs = %+v", attrs)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", &types.NotFoundException{Message: aws.String("no such endpoint")}, ErrNotFound},
		{"invalid parameter", &types.InvalidParameterException{Message: aws.String("bad arn")}, ErrInvalidParameter},
		{"expired sts token", &smithy.GenericAPIError{Code: "ExpiredTokenException", Message: "expired"}, ErrAuthExpired},
		{"unrecognized client", &smithy.GenericAPIError{Code: "UnrecognizedClientException", Message: "bad key"}, ErrAuthExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewFromAPI(&fakeAPI{err: tt.err})
			if _, err := client.CheckStatus(context.Background(), "arn:x"); !errors.Is(err, tt.want) {
				t.Fatalf("CheckStatus error = %v, want %v", err, tt.want)
			}
			if err := client.DeleteEndpoint(context.Background(), "arn:x"); !errors.Is(err, tt.want) {
				t.Fatalf("DeleteEndpoint error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnknownErrorsPassThrough(t *testing.T) {
	boom := &smithy.GenericAPIError{Code: "ThrottledException", Message: "slow down"}
	client := NewFromAPI(&fakeAPI{err: boom})
	_, err := client.CheckStatus(context.Background(), "arn:x")
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidParameter) || errors.Is(err, ErrAuthExpired) {
		t.Fatalf("throttling misclassified: %v", err)
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("original error lost: %v", err)
	}
}
