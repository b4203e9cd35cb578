package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mangwale/voice-platform/internal/call"
	"github.com/mangwale/voice-platform/pkg/logging"
)

const journalTTL = 7 * 24 * time.Hour

// DeliveryStatus tracks where a report sits in its delivery lifecycle.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// ErrRecordNotFound indicates the requested call SID has no journal entry.
var ErrRecordNotFound = errors.New("report: journal record not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// JournalRecord is the persisted delivery trail for one call outcome.
type JournalRecord struct {
	CallSid   string         `dynamodbav:"callSid" json:"callSid"`
	Kind      call.Kind      `dynamodbav:"kind" json:"kind"`
	OrderID   string         `dynamodbav:"orderId" json:"orderId"`
	Outcome   call.Outcome   `dynamodbav:"outcome,omitempty" json:"outcome,omitempty"`
	Status    DeliveryStatus `dynamodbav:"status" json:"status"`
	Attempts  int            `dynamodbav:"attempts" json:"attempts"`
	LastError string         `dynamodbav:"lastError,omitempty" json:"lastError,omitempty"`
	CreatedAt string         `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt string         `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt int64          `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// Journal persists report delivery records to DynamoDB. Optional: the
// reporter works without one, losing only the audit trail.
type Journal struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ journalStore = (*Journal)(nil)

// NewJournal builds a journal backed by the provided DynamoDB client.
func NewJournal(client dynamoAPI, tableName string, logger *logging.Logger) *Journal {
	if client == nil {
		panic("report: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("report: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Journal{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutPending inserts a pending record for a freshly queued report. A second
// enqueue for the same call SID keeps the original trail.
func (j *Journal) PutPending(ctx context.Context, st *call.State) error {
	if st == nil || st.CallSid == "" {
		return errors.New("report: state with call sid required")
	}

	now := time.Now().UTC()
	rec := JournalRecord{
		CallSid:   st.CallSid,
		Kind:      st.Kind,
		OrderID:   st.OrderID,
		Outcome:   st.Outcome,
		Status:    DeliveryPending,
		CreatedAt: now.Format(time.RFC3339Nano),
		UpdatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(journalTTL).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("report: failed to marshal journal record: %w", err)
	}

	_, err = j.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(j.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(callSid)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return nil
		}
		return fmt.Errorf("report: failed to persist journal record: %w", err)
	}
	return nil
}

// MarkDelivered records a successful upstream delivery.
func (j *Journal) MarkDelivered(ctx context.Context, callSid string, attempts int) error {
	return j.updateRecord(ctx, callSid, DeliveryDelivered, attempts, "")
}

// MarkDeadLetter records an abandoned report and the reason it was given up.
func (j *Journal) MarkDeadLetter(ctx context.Context, callSid string, attempts int, lastErr string) error {
	return j.updateRecord(ctx, callSid, DeliveryDeadLetter, attempts, lastErr)
}

// Get fetches the delivery trail for a call.
func (j *Journal) Get(ctx context.Context, callSid string) (*JournalRecord, error) {
	if callSid == "" {
		return nil, errors.New("report: callSid required")
	}

	out, err := j.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(j.tableName),
		Key: map[string]types.AttributeValue{
			"callSid": &types.AttributeValueMemberS{Value: callSid},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("report: failed to fetch journal record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrRecordNotFound
	}

	var rec JournalRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("report: failed to decode journal record: %w", err)
	}
	return &rec, nil
}

func (j *Journal) updateRecord(ctx context.Context, callSid string, status DeliveryStatus, attempts int, lastErr string) error {
	if callSid == "" {
		return errors.New("report: callSid required")
	}

	_, err := j.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(j.tableName),
		Key: map[string]types.AttributeValue{
			"callSid": &types.AttributeValueMemberS{Value: callSid},
		},
		UpdateExpression: aws.String("SET #status = :status, attempts = :attempts, lastError = :error, updatedAt = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(status)},
			":attempts": &types.AttributeValueMemberN{Value: strconv.Itoa(attempts)},
			":error":    &types.AttributeValueMemberS{Value: lastErr},
			":updated":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(callSid)"),
	})
	if err != nil {
		return fmt.Errorf("report: failed to update journal record %s: %w", callSid, err)
	}
	return nil
}
