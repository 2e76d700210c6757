package creds

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// stsAPI is the slice of the STS client the broker uses.
type stsAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// AssumeRoleBroker acquires short-lived grants through STS AssumeRole,
// using longer-lived base credentials carried by the client's config.
type AssumeRoleBroker struct {
	client      stsAPI
	roleARN     string
	sessionName string
	duration    time.Duration
}

// NewAssumeRoleBroker builds a broker for the given role. A zero duration
// defaults to one hour.
func NewAssumeRoleBroker(cfg aws.Config, roleARN, sessionName string, duration time.Duration) *AssumeRoleBroker {
	if duration <= 0 {
		duration = time.Hour
	}
	return &AssumeRoleBroker{
		client:      sts.NewFromConfig(cfg),
		roleARN:     roleARN,
		sessionName: sessionName,
		duration:    duration,
	}
}

// Acquire implements Broker.
func (b *AssumeRoleBroker) Acquire(ctx context.Context) (Grant, error) {
	out, err := b.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(b.roleARN),
		RoleSessionName: aws.String(b.sessionName),
		DurationSeconds: aws.Int32(int32(b.duration.Seconds())),
	})
	if err != nil {
		return Grant{}, fmt.Errorf("assume role %s: %w", b.roleARN, err)
	}
	c := out.Credentials
	if c == nil {
		return Grant{}, fmt.Errorf("assume role %s: empty credentials in response", b.roleARN)
	}
	return Grant{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Expiry:          aws.ToTime(c.Expiration),
	}, nil
}

// ProviderBroker adapts an SDK credentials provider into a Broker, for
// when the process already runs with sufficient credentials and no
// delegated-trust exchange is configured. Non-expiring credentials get a
// synthetic lifetime so the manager still cycles them.
type ProviderBroker struct {
	Provider aws.CredentialsProvider
	Lifetime time.Duration
}

// Acquire implements Broker.
func (b ProviderBroker) Acquire(ctx context.Context) (Grant, error) {
	c, err := b.Provider.Retrieve(ctx)
	if err != nil {
		return Grant{}, fmt.Errorf("retrieve credentials: %w", err)
	}
	expiry := c.Expires
	if !c.CanExpire {
		lifetime := b.Lifetime
		if lifetime <= 0 {
			lifetime = time.Hour
		}
		expiry = time.Now().Add(lifetime)
	}
	return Grant{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Expiry:          expiry,
	}, nil
}
