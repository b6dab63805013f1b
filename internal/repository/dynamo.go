package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

// Attribute and expression names shared by both tables.
const (
	attrUsername = "username"
	attrImages   = "images"

	appendImageExpr = "SET images = list_append(:img, if_not_exists(images, :empty))"
	createUserCond  = "attribute_not_exists(username)"
)

// DynamoAPI is the subset of the DynamoDB client used by Dynamo.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Dynamo is a Store backed by two DynamoDB tables keyed by username.
type Dynamo struct {
	client           DynamoAPI
	usersTable       string
	predictionsTable string
	logger           *slog.Logger
}

var _ Store = (*Dynamo)(nil)

// NewDynamo creates a Dynamo store over the given tables.
func NewDynamo(client DynamoAPI, usersTable, predictionsTable string, logger *slog.Logger) *Dynamo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dynamo{
		client:           client,
		usersTable:       usersTable,
		predictionsTable: predictionsTable,
		logger:           logger.With("component", "dynamo"),
	}
}

func usernameKey(username string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUsername: &types.AttributeValueMemberS{Value: username},
	}
}

// GetByUser retrieves the prediction document of a user.
func (d *Dynamo) GetByUser(ctx context.Context, username string) (*model.PredictionsDocument, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.predictionsTable),
		Key:            usernameKey(username),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get predictions: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var doc model.PredictionsDocument
	if err := attributevalue.UnmarshalMap(out.Item, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode predictions: %w", err)
	}
	if doc.Images == nil {
		doc.Images = []model.PredictionRecord{}
	}
	return &doc, nil
}

// AppendImage prepends a record with a single UpdateItem. if_not_exists
// covers the first upload, so no read precedes the write.
func (d *Dynamo) AppendImage(ctx context.Context, username string, record model.PredictionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid prediction record: %w", err)
	}

	item, err := attributevalue.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode prediction record: %w", err)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.predictionsTable),
		Key:              usernameKey(username),
		UpdateExpression: aws.String(appendImageExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":img":   &types.AttributeValueMemberL{Value: []types.AttributeValue{item}},
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to append prediction: %w", err)
	}

	return nil
}

// ScanAll reads every prediction document, following pagination.
func (d *Dynamo) ScanAll(ctx context.Context) ([]*model.PredictionsDocument, error) {
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName: aws.String(d.predictionsTable),
	})

	var (
		docs  []*model.PredictionsDocument
		pages int
	)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan predictions: %w", err)
		}
		pages++

		var batch []*model.PredictionsDocument
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode predictions page: %w", err)
		}
		docs = append(docs, batch...)
	}

	d.logger.DebugContext(ctx, "predictions scanned", "documents", len(docs), "pages", pages)
	return docs, nil
}

// CreateUser puts a new account unless the username already exists.
func (d *Dynamo) CreateUser(ctx context.Context, user *model.User) error {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.usersTable),
		Item:                item,
		ConditionExpression: aws.String(createUserCond),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUser retrieves an account by username.
func (d *Dynamo) GetUser(ctx context.Context, username string) (*model.User, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.usersTable),
		Key:            usernameKey(username),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrUserNotFound
	}

	var user model.User
	if err := attributevalue.UnmarshalMap(out.Item, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// Ping checks that the predictions table is reachable.
func (d *Dynamo) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.predictionsTable),
	})
	return err
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *Dynamo) Close() {}
