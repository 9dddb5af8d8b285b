package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableAdmin is the subset of the DynamoDB API used to provision the tables.
type TableAdmin interface {
	dynamodb.DescribeTableAPIClient
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// CreateTableInput returns the definition of the node table: numeric "id" key,
// the sharded path index, and a stream carrying old and new images for the
// cascade handler.
func CreateTableInput(config Config) *dynamodb.CreateTableInput {
	config.validate()
	return &dynamodb.CreateTableInput{
		TableName: aws.String(config.Table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrID), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrID), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String(attrShard), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrPath), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(config.PathIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(attrShard), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String(attrPath), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// CreateSiblingTableInput returns the definition of the sibling table: one row
// per node, partitioned by sibling set and sorted by node ID.
func CreateSiblingTableInput(config Config) *dynamodb.CreateTableInput {
	config.validate()
	return &dynamodb.CreateTableInput{
		TableName: aws.String(config.SiblingTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrSet), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrID), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrSet), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrID), AttributeType: types.ScalarAttributeTypeN},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// CreateTable creates the node and sibling tables, waits until both are
// active and enables TTL on the node table's "ttl" attribute.
func CreateTable(ctx context.Context, admin TableAdmin, config Config) error {
	config.validate()
	inputs := []*dynamodb.CreateTableInput{CreateTableInput(config), CreateSiblingTableInput(config)}
	for _, input := range inputs {
		if _, err := admin.CreateTable(ctx, input); err != nil {
			return fmt.Errorf("create table %s: %w", *input.TableName, err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(admin)
	for _, input := range inputs {
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: input.TableName,
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", *input.TableName, err)
		}
	}

	_, err := admin.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(config.Table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(attrTTL),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("enable ttl on %s: %w", config.Table, err)
	}
	return nil
}
