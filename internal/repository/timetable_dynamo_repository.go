package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/noah-isme/timetable-api/internal/models"
)

// DynamoAPI is the subset of the DynamoDB client used by the repositories.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// timetableItem is the stored shape of an entry: PK is the section, SK is
// "{DAY}#{slot}".
type timetableItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	YearSection string `dynamodbav:"yearSection"`
	Day         string `dynamodbav:"day"`
	Slot        int    `dynamodbav:"slot"`
	Subject     string `dynamodbav:"subject"`
	Faculty     string `dynamodbav:"faculty"`
	Room        string `dynamodbav:"room"`
	Type        string `dynamodbav:"type"`
}

func newTimetableItem(e models.TimetableEntry) timetableItem {
	return timetableItem{
		PK:          e.Section,
		SK:          e.SortKey(),
		YearSection: e.Section,
		Day:         string(e.Day),
		Slot:        e.Slot,
		Subject:     e.Subject,
		Faculty:     e.Faculty,
		Room:        e.Room,
		Type:        string(e.Type),
	}
}

func (i timetableItem) entry() models.TimetableEntry {
	section := i.YearSection
	if section == "" {
		section = i.PK
	}
	slotType := models.SlotType(i.Type)
	if parsed, ok := models.ParseSlotType(i.Type); ok {
		slotType = parsed
	}
	return models.TimetableEntry{
		Section: section,
		Day:     models.Day(i.Day),
		Slot:    i.Slot,
		Subject: i.Subject,
		Faculty: i.Faculty,
		Room:    i.Room,
		Type:    slotType,
	}
}

// TimetableDynamoRepository stores timetable entries in a DynamoDB table.
type TimetableDynamoRepository struct {
	client DynamoAPI
	table  string
}

// NewTimetableDynamoRepository constructs the repository for the given table.
func NewTimetableDynamoRepository(client DynamoAPI, table string) *TimetableDynamoRepository {
	return &TimetableDynamoRepository{client: client, table: table}
}

func timetableKey(section, sortKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: section},
		"SK": &types.AttributeValueMemberS{Value: sortKey},
	}
}

// Get returns the entry or nil when absent.
func (r *TimetableDynamoRepository) Get(ctx context.Context, section, sortKey string, consistent bool) (*models.TimetableEntry, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            timetableKey(section, sortKey),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, fmt.Errorf("get timetable item %s/%s: %w", section, sortKey, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item timetableItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal timetable item: %w", err)
	}
	entry := item.entry()
	return &entry, nil
}

// Create writes the entry only when its key is free.
func (r *TimetableDynamoRepository) Create(ctx context.Context, entry models.TimetableEntry) error {
	av, err := attributevalue.MarshalMap(newTimetableItem(entry))
	if err != nil {
		return fmt.Errorf("marshal timetable item: %w", err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return fmt.Errorf("build create condition: %w", err)
	}
	input := &dynamodb.PutItemInput{
		TableName:                aws.String(r.table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	}
	if _, err := r.client.PutItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return models.ErrSlotExists
		}
		return fmt.Errorf("put timetable item %s/%s: %w", entry.Section, entry.SortKey(), err)
	}
	return nil
}

// Update applies the patch to an existing entry and returns the stored result.
func (r *TimetableDynamoRepository) Update(ctx context.Context, section, sortKey string, patch models.SlotPatch) (*models.TimetableEntry, error) {
	if patch.IsEmpty() {
		entry, err := r.Get(ctx, section, sortKey, true)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, models.ErrSlotNotFound
		}
		return entry, nil
	}

	var update expression.UpdateBuilder
	if patch.Subject != nil {
		update = update.Set(expression.Name("subject"), expression.Value(*patch.Subject))
	}
	if patch.Faculty != nil {
		update = update.Set(expression.Name("faculty"), expression.Value(*patch.Faculty))
	}
	if patch.Room != nil {
		update = update.Set(expression.Name("room"), expression.Value(*patch.Room))
	}
	if patch.Type != nil {
		update = update.Set(expression.Name("type"), expression.Value(string(*patch.Type)))
	}
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build update expression: %w", err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       timetableKey(section, sortKey),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, models.ErrSlotNotFound
		}
		return nil, fmt.Errorf("update timetable item %s/%s: %w", section, sortKey, err)
	}
	var item timetableItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("unmarshal updated timetable item: %w", err)
	}
	entry := item.entry()
	return &entry, nil
}

// Delete removes the entry. Deleting an absent key is not an error.
func (r *TimetableDynamoRepository) Delete(ctx context.Context, section, sortKey string) error {
	if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       timetableKey(section, sortKey),
	}); err != nil {
		return fmt.Errorf("delete timetable item %s/%s: %w", section, sortKey, err)
	}
	return nil
}

// QueryPartition returns every entry of a section whose sort key starts with prefix.
func (r *TimetableDynamoRepository) QueryPartition(ctx context.Context, section, sortKeyPrefix string) ([]models.TimetableEntry, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(section))
	if sortKeyPrefix != "" {
		keyCond = keyCond.And(expression.Key("SK").BeginsWith(sortKeyPrefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build partition query: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	entries := make([]models.TimetableEntry, 0)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query timetable partition %s: %w", section, err)
		}
		var items []timetableItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal timetable partition: %w", err)
		}
		for _, item := range items {
			entries = append(entries, item.entry())
		}
	}
	return entries, nil
}

// Scan reads one page of the table, applying the filter server-side.
func (r *TimetableDynamoRepository) Scan(ctx context.Context, in models.TimetableScanInput) (models.TimetableScanPage, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(r.table),
		ConsistentRead: aws.Bool(in.Consistent),
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(int32(in.Limit))
	}

	if cond, ok := scanCondition(in.Filter); ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return models.TimetableScanPage{}, fmt.Errorf("build scan filter: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	cursor, err := decodeCursor(in.Cursor)
	if err != nil {
		return models.TimetableScanPage{}, err
	}
	if cursor != nil {
		start, err := attributevalue.MarshalMap(cursor)
		if err != nil {
			return models.TimetableScanPage{}, fmt.Errorf("marshal scan cursor: %w", err)
		}
		input.ExclusiveStartKey = start
	}

	out, err := r.client.Scan(ctx, input)
	if err != nil {
		return models.TimetableScanPage{}, fmt.Errorf("scan timetable: %w", err)
	}

	var items []timetableItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return models.TimetableScanPage{}, fmt.Errorf("unmarshal timetable scan: %w", err)
	}
	page := models.TimetableScanPage{Items: make([]models.TimetableEntry, 0, len(items))}
	for _, item := range items {
		page.Items = append(page.Items, item.entry())
	}

	if len(out.LastEvaluatedKey) > 0 {
		var next scanCursor
		if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &next); err != nil {
			return models.TimetableScanPage{}, fmt.Errorf("unmarshal scan position: %w", err)
		}
		if page.NextCursor, err = encodeCursor(next); err != nil {
			return models.TimetableScanPage{}, err
		}
	}
	return page, nil
}

func scanCondition(f models.TimetableScanFilter) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	if f.Faculty != "" {
		conds = append(conds, expression.Name("faculty").Equal(expression.Value(f.Faculty)))
	}
	if f.Day != "" {
		conds = append(conds, expression.Name("day").Equal(expression.Value(string(f.Day))))
	}
	if f.Slot != 0 {
		conds = append(conds, expression.Name("slot").Equal(expression.Value(f.Slot)))
	}
	if f.SortKeyPrefix != "" {
		conds = append(conds, expression.Name("SK").BeginsWith(f.SortKeyPrefix))
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	case 2:
		return expression.And(conds[0], conds[1]), true
	default:
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
