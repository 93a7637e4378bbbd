package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix       = "SESSION#"
	skMeta         = "META"
	skActionPrefix = "ACTION#"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements ActionStore on a single DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface check.
var _ ActionStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

// TableName returns the backing table name (for startup logging).
func (s *DynamoStore) TableName() string {
	return s.tableName
}

// --- Internal helpers ---

func sessionPK(sessionID string) string {
	return pkPrefix + sessionID
}

func actionSK(actionID string) string {
	return skActionPrefix + actionID
}

func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(RetentionTTL).Unix()
}

func keyAttrs(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// marshalItem marshals a domain object and adds PK, SK and TTL attributes.
func (s *DynamoStore) marshalItem(pk, sk string, data interface{}) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}
	return item, nil
}

// --- Observed actions ---

// PutAction writes the action under a condition that the key does not
// exist yet. A conditional failure means the same ID was already written,
// which is treated as success.
func (s *DynamoStore) PutAction(ctx context.Context, action *ObservedAction) error {
	if action.SessionID == "" || action.ObservedActionID == "" {
		return fmt.Errorf("PutAction: session and action IDs are required")
	}
	pk, sk := sessionPK(action.SessionID), actionSK(action.ObservedActionID)
	item, err := s.marshalItem(pk, sk, action)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			log.Debug().Str("pk", pk).Str("sk", sk).Msg("PutAction: record already exists, skipping")
			return nil
		}
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	log.Debug().
		Str("pk", pk).
		Str("sk", sk).
		Str("motionPresent", action.MotionPresent).
		Dur("duration", time.Since(start)).
		Msg("Observed action persisted")
	return nil
}

// ListActions queries all ACTION# records for a session.
func (s *DynamoStore) ListActions(ctx context.Context, sessionID string) ([]*ObservedAction, error) {
	pk := sessionPK(sessionID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skActionPrefix},
		},
	}

	var actions []*ObservedAction
	// DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skActionPrefix, err)
		}
		for _, item := range result.Items {
			var a ObservedAction
			if err := attributevalue.UnmarshalMap(item, &a); err != nil {
				return nil, fmt.Errorf("unmarshal action: %w", err)
			}
			a.SessionID = sessionID
			if a.ObservedActionID == "" {
				if sk, ok := item["SK"].(*types.AttributeValueMemberS); ok {
					a.ObservedActionID = strings.TrimPrefix(sk.Value, skActionPrefix)
				}
			}
			actions = append(actions, &a)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return actions, nil
}

// --- Sessions ---

func (s *DynamoStore) PutSession(ctx context.Context, session *Session) error {
	if session.CreatedAt == 0 {
		session.CreatedAt = s.now().Unix()
	}
	pk := sessionPK(session.SessionID)
	item, err := s.marshalItem(pk, skMeta, session)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, skMeta, err)
	}
	return nil
}

func (s *DynamoStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	pk := sessionPK(sessionID)
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       keyAttrs(pk, skMeta),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, skMeta, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var sess Session
	if err := attributevalue.UnmarshalMap(result.Item, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, skMeta, err)
	}
	sess.SessionID = sessionID
	return &sess, nil
}

// UpdateSession builds a SET expression from the non-empty fields.
// "status" is a DynamoDB reserved word, hence the name placeholder. The
// update never creates the META item.
func (s *DynamoStore) UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error {
	sets := []string{"updated_at = :updated"}
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":updated": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
	}
	if update.Status != "" {
		sets = append(sets, "#status = :status")
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: update.Status}
	}
	if update.ProcessingStage != "" {
		sets = append(sets, "processing_stage = :stage")
		values[":stage"] = &types.AttributeValueMemberS{Value: update.ProcessingStage}
	}
	if update.TranscriptURI != "" {
		sets = append(sets, "transcript_uri = :uri")
		values[":uri"] = &types.AttributeValueMemberS{Value: update.TranscriptURI}
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyAttrs(sessionPK(sessionID), skMeta),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("UpdateItem session %s: %w", sessionID, ErrSessionNotFound)
		}
		return fmt.Errorf("UpdateItem session %s: %w", sessionID, err)
	}
	log.Debug().
		Str("sessionId", sessionID).
		Str("status", update.Status).
		Str("stage", update.ProcessingStage).
		Msg("Session updated")
	return nil
}
