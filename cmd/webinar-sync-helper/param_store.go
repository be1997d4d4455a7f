// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

// Operator parameter storage.
//
// The working list location (site URL, list name, folder name) and the Webex
// integration token document are kept outside the process so that they
// survive restarts and can be changed without a redeploy. Two backends are
// supported: AWS SSM Parameter Store and a NATS JetStream KV bucket. Reads go
// through an in-memory cache.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/nats-io/nats.go/jetstream"
	gocache "github.com/patrickmn/go-cache"
)

// Parameter names, relative to the configured prefix.
const (
	paramSiteURL     = "spSiteURL"
	paramListName    = "spListName"
	paramFolderName  = "spFolderName"
	paramWebexTokens = "webexTokens"
)

// ErrParamNotFound is returned when a parameter has never been saved.
var ErrParamNotFound = errors.New("parameter not found")

// ParamStore reads and writes named operator parameters.
type ParamStore interface {
	GetParam(ctx context.Context, name string) (string, error)
	// PutParam saves a parameter; secure values are encrypted at rest where
	// the backend supports it.
	PutParam(ctx context.Context, name, value string, secure bool) error
}

// SharePointParams locates the working list folder.
type SharePointParams struct {
	SiteURL    string
	ListName   string
	FolderName string
}

// loadSharePointParams reads the working list location.
func loadSharePointParams(ctx context.Context, store ParamStore) (*SharePointParams, error) {
	var params SharePointParams
	for name, dst := range map[string]*string{
		paramSiteURL:    &params.SiteURL,
		paramListName:   &params.ListName,
		paramFolderName: &params.FolderName,
	} {
		value, err := store.GetParam(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read parameter %s: %w", name, err)
		}
		*dst = value
	}
	return &params, nil
}

// ssmAPI is the subset of the SSM client used by ssmParamStore.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, in *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ssmParamStore keeps parameters in AWS SSM Parameter Store under a path
// prefix such as "/sharepoint-webex".
type ssmParamStore struct {
	client ssmAPI
	prefix string
}

// newSSMParamStore loads the AWS configuration from the environment and,
// when a role ARN is configured, assumes it through STS.
func newSSMParamStore(ctx context.Context, cfg *Config) (*ssmParamStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.AssumeRoleARN != "" {
		logger.With("role_arn", cfg.AssumeRoleARN).Info("assuming IAM role for parameter store access")
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN))
	}
	return &ssmParamStore{
		client: ssm.NewFromConfig(awsCfg),
		prefix: cfg.ParamPrefix,
	}, nil
}

func (s *ssmParamStore) path(name string) string {
	return strings.TrimSuffix(s.prefix, "/") + "/" + name
}

// GetParam implements ParamStore.
func (s *ssmParamStore) GetParam(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.path(name)),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%s: %w", s.path(name), ErrParamNotFound)
		}
		return "", fmt.Errorf("failed to get SSM parameter %s: %w", s.path(name), err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("%s: %w", s.path(name), ErrParamNotFound)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// PutParam implements ParamStore.
func (s *ssmParamStore) PutParam(ctx context.Context, name, value string, secure bool) error {
	paramType := ssmtypes.ParameterTypeString
	if secure {
		paramType = ssmtypes.ParameterTypeSecureString
	}
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.path(name)),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to put SSM parameter %s: %w", s.path(name), err)
	}
	return nil
}

// kvParamStore keeps parameters in a NATS JetStream KV bucket. The path
// prefix becomes a dotted key prefix: "/sharepoint-webex" + "spSiteURL" is
// stored as "sharepoint-webex.spSiteURL".
type kvParamStore struct {
	kv     jetstream.KeyValue
	prefix string
}

func newKVParamStore(kv jetstream.KeyValue, prefix string) *kvParamStore {
	return &kvParamStore{
		kv:     kv,
		prefix: strings.ReplaceAll(strings.Trim(prefix, "/"), "/", "."),
	}
}

func (s *kvParamStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "." + name
}

// name is the inverse of key.
func (s *kvParamStore) name(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+".")
}

// GetParam implements ParamStore.
func (s *kvParamStore) GetParam(ctx context.Context, name string) (string, error) {
	entry, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", fmt.Errorf("%s: %w", s.key(name), ErrParamNotFound)
		}
		return "", fmt.Errorf("failed to get KV parameter %s: %w", s.key(name), err)
	}
	return string(entry.Value()), nil
}

// PutParam implements ParamStore. KV buckets have no per-key encryption, so
// secure is ignored.
func (s *kvParamStore) PutParam(ctx context.Context, name, value string, _ bool) error {
	if _, err := s.kv.Put(ctx, s.key(name), []byte(value)); err != nil {
		return fmt.Errorf("failed to put KV parameter %s: %w", s.key(name), err)
	}
	return nil
}

// cachedParamStore serves repeated reads from memory for ttl.
type cachedParamStore struct {
	store ParamStore
	cache *gocache.Cache
}

func newCachedParamStore(store ParamStore, ttl time.Duration) *cachedParamStore {
	return &cachedParamStore{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// GetParam implements ParamStore.
func (c *cachedParamStore) GetParam(ctx context.Context, name string) (string, error) {
	if v, ok := c.cache.Get(name); ok {
		return v.(string), nil
	}
	value, err := c.store.GetParam(ctx, name)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(name, value)
	return value, nil
}

// PutParam implements ParamStore and refreshes the cached value.
func (c *cachedParamStore) PutParam(ctx context.Context, name, value string, secure bool) error {
	if err := c.store.PutParam(ctx, name, value, secure); err != nil {
		c.cache.Delete(name)
		return err
	}
	c.cache.SetDefault(name, value)
	return nil
}

// invalidate drops a cached value.
func (c *cachedParamStore) invalidate(name string) {
	c.cache.Delete(name)
}
