// Copyright 2024-2026 Aiku AI

package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
)

// ssmAPI is the part of *ssm.Client used to resolve secrets.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// HasSecretParams reports whether any secret is sourced from SSM.
func (c *Config) HasSecretParams() bool {
	return c.SSM.MattermostTokenParam != "" || c.SSM.GatewayURLParam != ""
}

// NewSSMClient builds an SSM client from the default AWS credential chain.
func NewSSMClient(ctx context.Context, region string) (*ssm.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return ssm.NewFromConfig(awsCfg), nil
}

// ResolveSecrets replaces the Mattermost token and the gateway URL with the
// SSM parameters named in the ssm section.
func (c *Config) ResolveSecrets(ctx context.Context, api ssmAPI, log zerolog.Logger) error {
	targets := []struct {
		param string
		dest  *string
	}{
		{c.SSM.MattermostTokenParam, &c.Mattermost.Token},
		{c.SSM.GatewayURLParam, &c.Gateway.URL},
	}
	for _, t := range targets {
		if t.param == "" {
			continue
		}
		value, err := getParameter(ctx, api, t.param)
		if err != nil {
			return err
		}
		*t.dest = value
		log.Debug().Str("parameter", t.param).Msg("Resolved secret from SSM")
	}
	return nil
}

func getParameter(ctx context.Context, api ssmAPI, name string) (string, error) {
	name = strings.TrimSpace(name)
	out, err := api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get SSM parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("SSM parameter " + name + " has no value")
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}
