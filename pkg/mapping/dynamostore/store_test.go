// Copyright 2024-2026 Aiku AI

package dynamostore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/aiku/wa-mattermost-relay/pkg/mapping"
	"github.com/aiku/wa-mattermost-relay/pkg/mapping/mappingtest"
)

// fakeDynamo is an in-memory table keyed by PK and SK. Query pages hold at
// most pageSize items so pagination is exercised.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]map[string]types.AttributeValue
	order    map[string][]string
	pageSize int
	queries  int
	putErr   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		items:    map[string]map[string]map[string]types.AttributeValue{},
		order:    map[string][]string{},
		pageSize: 2,
	}
}

func sAttr(item map[string]types.AttributeValue, key string) string {
	return item[key].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	pk, sk := sAttr(in.Item, "PK"), sAttr(in.Item, "SK")
	if f.items[pk] == nil {
		f.items[pk] = map[string]map[string]types.AttributeValue{}
	}
	if _, exists := f.items[pk][sk]; !exists {
		f.order[pk] = append(f.order[pk], sk)
	}
	f.items[pk][sk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	start := 0
	if in.ExclusiveStartKey != nil {
		n, _ := strconv.Atoi(sAttr(in.ExclusiveStartKey, "idx"))
		start = n
	}
	keys := f.order[pk]
	end := min(start+f.pageSize, len(keys))
	out := &dynamodb.QueryOutput{}
	for _, sk := range keys[start:end] {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"idx": &types.AttributeValueMemberS{Value: strconv.Itoa(end)},
		}
	}
	return out, nil
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "table", "")
	require.Error(t, err)
	_, err = New(newFakeDynamo(), " ", "")
	require.Error(t, err)
}

func TestBackendContract(t *testing.T) {
	mappingtest.RunBackendTests(t, func(t *testing.T) func() mapping.Backend {
		db := newFakeDynamo()
		return func() mapping.Backend {
			store, err := New(db, "relay", "")
			require.NoError(t, err)
			return store
		}
	}, true)
}

func TestLoadPaginates(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	store, err := New(db, "relay", "prod#")
	require.NoError(t, err)

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Put(ctx, mapping.Record{Kind: mapping.KindContact, Key: key, Data: []byte(`{}`)}))
	}
	require.Contains(t, db.items, "prod#contact")

	recs, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	// chat and user: one page each; contact: three pages.
	require.Equal(t, 5, db.queries)
}

func TestPutWrapsError(t *testing.T) {
	db := newFakeDynamo()
	db.putErr = errors.New("throttled")
	store, err := New(db, "relay", "")
	require.NoError(t, err)

	err = store.Put(context.Background(), mapping.Record{Kind: mapping.KindChat, Key: "k", Data: []byte(`{}`)})
	require.ErrorContains(t, err, "throttled")
}

func TestItemToRecordRequiresData(t *testing.T) {
	_, err := itemToRecord(mapping.KindChat, map[string]types.AttributeValue{
		"SK": &types.AttributeValueMemberS{Value: "k"},
	})
	require.ErrorContains(t, err, `missing attribute "data"`)

	_, err = itemToRecord(mapping.KindChat, map[string]types.AttributeValue{
		"SK":   &types.AttributeValueMemberS{Value: "k"},
		"data": &types.AttributeValueMemberN{Value: "1"},
	})
	require.ErrorContains(t, err, "not a string")
}
