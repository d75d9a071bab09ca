// Copyright 2024-2026 Aiku AI

// Package dynamostore provides a DynamoDB-backed mapping backend. Records
// live in one table with partition key PK (the kind) and sort key SK (the
// record key).
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
)

func init() {
	mapping.RegisterBackend(mapping.Plugin{
		Name:   "dynamodb",
		Loader: load,
	})
}

func load(ctx context.Context, cfg mapping.BackendConfig) (mapping.Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.URI != "" {
			o.BaseEndpoint = aws.String(cfg.URI)
		}
	})
	return New(client, cfg.Table, cfg.KeyPrefix)
}

// dynamodbAPI is the minimal DynamoDB interface required by Store.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store keeps mapping records in a DynamoDB table.
type Store struct {
	api       dynamodbAPI
	tableName string
	pkPrefix  string
}

var _ mapping.Backend = (*Store)(nil)

// New creates a Store over api. The prefix is prepended to partition keys so
// several relays can share one table.
func New(api dynamodbAPI, tableName, prefix string) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamostore: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamostore: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName, pkPrefix: prefix}, nil
}

func (s *Store) pk(kind mapping.Kind) string {
	return s.pkPrefix + string(kind)
}

func (s *Store) Load(ctx context.Context) ([]mapping.Record, error) {
	var out []mapping.Record
	for _, kind := range mapping.Kinds() {
		var startKey map[string]types.AttributeValue
		for {
			resp, err := s.api.Query(ctx, &dynamodb.QueryInput{
				TableName:              aws.String(s.tableName),
				KeyConditionExpression: aws.String("PK = :pk"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":pk": &types.AttributeValueMemberS{Value: s.pk(kind)},
				},
				ExclusiveStartKey: startKey,
			})
			if err != nil {
				return nil, fmt.Errorf("dynamostore: query %s: %w", kind, err)
			}
			for _, item := range resp.Items {
				rec, err := itemToRecord(kind, item)
				if err != nil {
					return nil, fmt.Errorf("dynamostore: decode %s: %w", kind, err)
				}
				out = append(out, rec)
			}
			if len(resp.LastEvaluatedKey) == 0 {
				break
			}
			startKey = resp.LastEvaluatedKey
		}
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, rec mapping.Record) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: s.pk(rec.Kind)},
			"SK":         &types.AttributeValueMemberS{Value: rec.Key},
			"data":       &types.AttributeValueMemberS{Value: string(rec.Data)},
			"updated_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.UpdatedAt.UnixMilli(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamostore: put %s %s: %w", rec.Kind, rec.Key, err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

func itemToRecord(kind mapping.Kind, item map[string]types.AttributeValue) (mapping.Record, error) {
	key, err := strAttr(item, "SK")
	if err != nil {
		return mapping.Record{}, err
	}
	data, err := strAttr(item, "data")
	if err != nil {
		return mapping.Record{}, err
	}
	rec := mapping.Record{Kind: kind, Key: key, Data: []byte(data)}
	if n, ok := item["updated_at"].(*types.AttributeValueMemberN); ok {
		millis, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return mapping.Record{}, fmt.Errorf("parse attribute %q: %w", "updated_at", err)
		}
		rec.UpdatedAt = time.UnixMilli(millis).UTC()
	}
	return rec, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}
