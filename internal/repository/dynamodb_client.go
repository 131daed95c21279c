package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"intake-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"

	// A transaction holds at most 100 items; one is the META update.
	maxTurnsPerAppend = 99
	maxAppendAttempts = 3
)

var (
	// ErrNotFound is returned when the conversation does not exist.
	ErrNotFound = errors.New("repository: conversation not found")
	// ErrConflict is returned when concurrent writers kept racing on the
	// same conversation.
	ErrConflict = errors.New("repository: concurrent update")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ReadWriter defines the conversation operations consumed by the use cases.
// Both the DynamoDB Client and sqlstore.Store implement it.
type ReadWriter interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	AppendTurns(ctx context.Context, conversationID string, turns []domain.NewTurn) ([]domain.Turn, error)
	ListTurns(ctx context.Context, conversationID string) ([]domain.Turn, error)
	CommitFollowUp(ctx context.Context, conversationID string, loadedTurnCount int, state domain.IntakeState, turn domain.NewTurn) (domain.Turn, error)
}

// Client stores conversations in a single DynamoDB table. Each conversation
// is one META# item plus one MSG# item per turn under the same partition.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK zero-pads seq so lexical order matches creation order.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%08d", skPrefixMsg, seq)
}

func (c *Client) key(conversationID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// CreateConversation writes a new META item. An empty ID is replaced with a
// random UUID.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if strings.TrimSpace(conv.PatientID) == "" {
		return domain.Conversation{}, errors.New("repository: CreateConversation: patient id is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := c.now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now
	conv.TurnCount = 0

	item, err := metaItem(conv)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return conv, nil
}

// GetConversation reads the META item with a consistent read.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(conversationID, skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return conv, nil
}

// ListTurns returns every turn of the conversation in creation order.
func (c *Client) ListTurns(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var turns []domain.Turn
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTurns query: %w", err)
		}
		for _, item := range out.Items {
			turn, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListTurns unmarshal: %w", err)
			}
			turns = append(turns, turn)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return turns, nil
}

// AppendTurns adds turns after the current last turn.
func (c *Client) AppendTurns(ctx context.Context, conversationID string, turns []domain.NewTurn) ([]domain.Turn, error) {
	out, err := c.append(ctx, conversationID, turns, nil)
	if err != nil {
		return nil, fmt.Errorf("repository: AppendTurns: %w", err)
	}
	return out, nil
}

// CommitFollowUp stores the assistant turn and the new intake state in one
// transaction. loadedTurnCount is the turn count of the snapshot the state
// was derived from; if the conversation moved on since then the commit fails
// with ErrConflict and is not retried.
func (c *Client) CommitFollowUp(ctx context.Context, conversationID string, loadedTurnCount int, state domain.IntakeState, turn domain.NewTurn) (domain.Turn, error) {
	out, err := c.append(ctx, conversationID, []domain.NewTurn{turn}, &followUpCommit{state: state, turnCount: loadedTurnCount})
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: CommitFollowUp: %w", err)
	}
	return out[0], nil
}

// followUpCommit pins an append to the snapshot a follow-up was computed from.
type followUpCommit struct {
	state     domain.IntakeState
	turnCount int
}

// append writes turns and bumps turnCount under a condition on its previous
// value. Plain appends retry when another writer got there first; follow-up
// commits never do.
func (c *Client) append(ctx context.Context, conversationID string, turns []domain.NewTurn, commit *followUpCommit) ([]domain.Turn, error) {
	if len(turns) == 0 {
		return nil, errors.New("no turns to append")
	}
	if len(turns) > maxTurnsPerAppend {
		return nil, fmt.Errorf("at most %d turns per append", maxTurnsPerAppend)
	}
	var stateJSON string
	if commit != nil {
		raw, err := domain.EncodeIntakeState(commit.state)
		if err != nil {
			return nil, err
		}
		stateJSON = raw
	}

	for attempt := 1; ; attempt++ {
		conv, err := c.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if commit != nil && conv.TurnCount != commit.turnCount {
			return nil, fmt.Errorf("%w: turn count is %d, follow-up was computed at %d", ErrConflict, conv.TurnCount, commit.turnCount)
		}

		now := c.now().UTC()
		written := make([]domain.Turn, 0, len(turns))
		items := make([]types.TransactWriteItem, 0, len(turns)+1)
		for i, nt := range turns {
			t := domain.Turn{
				ConversationID: conversationID,
				Seq:            conv.TurnCount + i + 1,
				Role:           nt.Role,
				Text:           nt.Text,
				CreatedAt:      now,
			}
			written = append(written, t)
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(t),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			})
		}

		update := "SET turnCount = :new, updatedAt = :now"
		values := map[string]types.AttributeValue{
			":old": &types.AttributeValueMemberN{Value: strconv.Itoa(conv.TurnCount)},
			":new": &types.AttributeValueMemberN{Value: strconv.Itoa(conv.TurnCount + len(turns))},
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		}
		if commit != nil {
			update += ", intakeState = :state"
			values[":state"] = &types.AttributeValueMemberS{Value: stateJSON}
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 aws.String(c.tableName),
				Key:                       c.key(conversationID, skMeta),
				UpdateExpression:          aws.String(update),
				ConditionExpression:       aws.String("turnCount = :old"),
				ExpressionAttributeValues: values,
			},
		})

		_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			return written, nil
		}
		var canceled *types.TransactionCanceledException
		if !errors.As(err, &canceled) {
			return nil, err
		}
		if commit != nil || attempt >= maxAppendAttempts {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
}

func metaItem(conv domain.Conversation) (map[string]types.AttributeValue, error) {
	metadata := conv.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	stateJSON, err := domain.EncodeIntakeState(conv.Intake)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conv.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"patientId":      &types.AttributeValueMemberS{Value: conv.PatientID},
		"metadata":       &types.AttributeValueMemberS{Value: string(metaJSON)},
		"intakeState":    &types.AttributeValueMemberS{Value: stateJSON},
		"turnCount":      &types.AttributeValueMemberN{Value: strconv.Itoa(conv.TurnCount)},
		"createdAt":      &types.AttributeValueMemberS{Value: conv.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"updatedAt":      &types.AttributeValueMemberS{Value: conv.UpdatedAt.UTC().Format(time.RFC3339Nano)},
	}, nil
}

func turnItem(t domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(t.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(t.Seq)},
		"conversationId": &types.AttributeValueMemberS{Value: t.ConversationID},
		"seq":            &types.AttributeValueMemberN{Value: strconv.Itoa(t.Seq)},
		"role":           &types.AttributeValueMemberS{Value: string(t.Role)},
		"text":           &types.AttributeValueMemberS{Value: t.Text},
		"createdAt":      &types.AttributeValueMemberS{Value: t.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	patientID, err := strAttr(item, "patientId")
	if err != nil {
		return domain.Conversation{}, err
	}
	turnCount, err := intAttr(item, "turnCount")
	if err != nil {
		return domain.Conversation{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.Conversation{}, err
	}

	metadata := map[string]any{}
	if raw, _ := strAttr(item, "metadata"); raw != "" { // allow empty
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: decode metadata: %w", err)
		}
	}
	rawState, _ := strAttr(item, "intakeState") // allow empty
	state, err := domain.DecodeIntakeState(rawState)
	if err != nil {
		return domain.Conversation{}, err
	}

	return domain.Conversation{
		ID:        id,
		PatientID: patientID,
		Metadata:  metadata,
		Intake:    state,
		TurnCount: turnCount,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Turn{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Turn{}, err
	}
	rawRole, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{ConversationID: id, Seq: seq, Role: role, Text: text, CreatedAt: createdAt}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
