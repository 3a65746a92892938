package dynamodb

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/require"

	"github.com/estuary/cdc-relay/internal/event"
)

type fakeDynamoDB struct {
	dynamodbiface.DynamoDBAPI

	tableExists bool
	failPuts    bool
	failGets    bool
	items       map[string]map[string]*dynamodb.AttributeValue
	putCount    int
}

func newFake(tableExists bool) *fakeDynamoDB {
	return &fakeDynamoDB{tableExists: tableExists, items: map[string]map[string]*dynamodb.AttributeValue{}}
}

func (f *fakeDynamoDB) DescribeTable(in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	if !f.tableExists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "no table", nil)
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func itemKey(item map[string]*dynamodb.AttributeValue) string {
	return aws.StringValue(item["datasource_type"].S) + ":" + aws.StringValue(item["datasource_source"].S)
}

func (f *fakeDynamoDB) PutItem(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	f.putCount++
	if f.failPuts {
		return nil, awserr.New("InternalServerError", "boom", nil)
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) GetItem(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	if f.failGets {
		return nil, awserr.New("InternalServerError", "boom", nil)
	}
	item, ok := f.items[itemKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func TestNewFailsWhenTableMissing(t *testing.T) {
	_, err := newWithClient(Config{TableName: "checkpoints"}, newFake(false))
	require.Error(t, err)
}

func TestStoreThenReadRoundTrips(t *testing.T) {
	s, err := newWithClient(Config{TableName: "checkpoints"}, newFake(true))
	require.NoError(t, err)

	require.True(t, s.Store("mysql", "db-primary", event.Position("uuid:42")))

	pos, ok := s.Read("mysql", "db-primary")
	require.True(t, ok)
	require.Equal(t, event.Position("uuid:42"), pos)
}

func TestReadMissingKeyReturnsNotFound(t *testing.T) {
	s, err := newWithClient(Config{TableName: "checkpoints"}, newFake(true))
	require.NoError(t, err)

	_, ok := s.Read("mysql", "unknown")
	require.False(t, ok)
}

func TestReadFailureReturnsNotFoundWithoutError(t *testing.T) {
	fake := newFake(true)
	fake.failGets = true
	s, err := newWithClient(Config{TableName: "checkpoints"}, fake)
	require.NoError(t, err)

	pos, ok := s.Read("mysql", "db-primary")
	require.False(t, ok)
	require.Equal(t, event.Position(""), pos)
}

func TestDuplicateWriteIsElided(t *testing.T) {
	fake := newFake(true)
	s, err := newWithClient(Config{TableName: "checkpoints"}, fake)
	require.NoError(t, err)

	require.True(t, s.Store("mysql", "db-primary", event.Position("uuid:1")))
	require.True(t, s.Store("mysql", "db-primary", event.Position("uuid:1")))
	require.Equal(t, 1, fake.putCount)

	require.True(t, s.Store("mysql", "db-primary", event.Position("uuid:2")))
	require.Equal(t, 2, fake.putCount)
}

func TestStoreReturnsFalseOnFailureWithoutError(t *testing.T) {
	fake := newFake(true)
	fake.failPuts = true
	s, err := newWithClient(Config{TableName: "checkpoints"}, fake)
	require.NoError(t, err)

	require.False(t, s.Store("mysql", "db-primary", event.Position("uuid:1")))
}
