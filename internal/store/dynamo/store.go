// Package dynamo stores sessions, triggers and the message log in a single
// DynamoDB table keyed by PK/SK. A conversation's open session is guarded
// by a lock item written in the same transaction as the session.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/store"
)

// dynamodbAPI is the subset of *dynamodb.Client the store uses.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ store.Store = (*Store)(nil)

// Store implements store.Store on DynamoDB.
type Store struct {
	api   dynamodbAPI
	table string
	log   *logging.Logger
}

// New creates a Store on the given table.
func New(api dynamodbAPI, table string, log *logging.Logger) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Store{api: api, table: table, log: log.Sub("store")}, nil
}

func (s *Store) get(ctx context.Context, k map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, store.ErrNotFound
	}
	return out.Item, nil
}

// FindOpen follows the conversation's lock item to its session.
func (s *Store) FindOpen(ctx context.Context, conv domain.ConversationKey) (*domain.Session, error) {
	lock, err := s.get(ctx, lockKey(conv.String()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("dynamo: reading open lock: %w", err)
	}
	id, err := strAttr(lock, "sessionId")
	if err != nil {
		return nil, err
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Ended {
		s.log.Warn().Str("session", id).Str("conversation", conv.String()).Msg("lock points at an ended session")
		return nil, store.ErrNotFound
	}
	return sess, nil
}

func (s *Store) ListOpen(ctx context.Context, conv domain.ConversationKey) ([]*domain.Session, error) {
	sess, err := s.FindOpen(ctx, conv)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []*domain.Session{sess}, nil
}

// Create writes the session and, for an open session, takes the
// conversation lock in the same transaction.
func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	put := &types.Put{
		TableName:           aws.String(s.table),
		Item:                sessionItem(sess),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}
	if sess.Ended {
		_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           put.TableName,
			Item:                put.Item,
			ConditionExpression: put.ConditionExpression,
		})
		if err != nil {
			return fmt.Errorf("dynamo: creating session %s: %w", sess.ID, err)
		}
		return nil
	}

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.table),
				Item:                lockItem(sess),
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: put},
		},
	})
	if failed := cancelledAt(err); len(failed) > 0 && failed[0] {
		return store.ErrOpenSessionExists
	}
	if err != nil {
		return fmt.Errorf("dynamo: creating session %s: %w", sess.ID, err)
	}
	return nil
}

// Save rewrites an existing session. Ending a session releases the lock
// it holds; saving an open one keeps or takes it. A stored session that
// has already ended is never rewritten.
func (s *Store) Save(ctx context.Context, sess *domain.Session) error {
	conv := sess.Conversation.String()
	put := &types.Put{
		TableName:                 aws.String(s.table),
		Item:                      sessionItem(sess),
		ConditionExpression:       aws.String("ended = :open"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":open": boolean(false)},
	}

	var second types.TransactWriteItem
	if sess.Ended {
		owns, err := s.ownsLock(ctx, conv, sess.ID)
		if err != nil {
			return err
		}
		if !owns {
			_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:                 put.TableName,
				Item:                      put.Item,
				ConditionExpression:       put.ConditionExpression,
				ExpressionAttributeValues: put.ExpressionAttributeValues,
			})
			if isConditionFailed(err) {
				return s.missingOrEnded(ctx, sess.ID)
			}
			if err != nil {
				return fmt.Errorf("dynamo: saving session %s: %w", sess.ID, err)
			}
			return nil
		}
		second = types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(s.table),
			Key:                       lockKey(conv),
			ConditionExpression:       aws.String("sessionId = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":id": str(sess.ID)},
		}}
	} else {
		second = types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(s.table),
			Item:                      lockItem(sess),
			ConditionExpression:       aws.String("attribute_not_exists(PK) OR sessionId = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":id": str(sess.ID)},
		}}
	}

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{{Put: put}, second},
	})
	if failed := cancelledAt(err); len(failed) == 2 {
		switch {
		case failed[0]:
			return s.missingOrEnded(ctx, sess.ID)
		case failed[1] && !sess.Ended:
			return store.ErrOpenSessionExists
		}
	}
	if err != nil {
		return fmt.Errorf("dynamo: saving session %s: %w", sess.ID, err)
	}
	return nil
}

// missingOrEnded explains a failed session condition.
func (s *Store) missingOrEnded(ctx context.Context, id string) error {
	item, err := s.get(ctx, sessionKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("dynamo: saving session %s: %w", id, err)
	}
	if boolAttr(item, "ended") {
		return store.ErrSessionEnded
	}
	return store.ErrNotFound
}

// ownsLock reports whether id holds the conversation's open lock.
func (s *Store) ownsLock(ctx context.Context, conv, id string) (bool, error) {
	lock, err := s.get(ctx, lockKey(conv))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dynamo: reading open lock: %w", err)
	}
	return optStr(lock, "sessionId") == id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	item, err := s.get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("dynamo: getting session %s: %w", id, err)
	}
	return itemToSession(item)
}

// List scans every session record and filters in memory. Session volume
// per deployment is small enough for a scan.
func (s *Store) List(ctx context.Context, f store.SessionFilter) ([]*domain.Session, error) {
	all, err := s.scanSessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.Session
	for _, sess := range all {
		if f.Conversation != "" && sess.Conversation.String() != f.Conversation {
			continue
		}
		if f.OpenOnly && sess.Ended {
			continue
		}
		if !f.Since.IsZero() && sess.StartTime.Before(f.Since) {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListIdle(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	all, err := s.scanSessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.Session
	for _, sess := range all {
		if !sess.Ended && sess.ModifiedTime.Before(cutoff) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedTime.Before(out[j].ModifiedTime) })
	return out, nil
}

func (s *Store) scanSessions(ctx context.Context) ([]*domain.Session, error) {
	items, err := s.scan(ctx, typeSession)
	if err != nil {
		return nil, fmt.Errorf("dynamo: listing sessions: %w", err)
	}
	out := make([]*domain.Session, 0, len(items))
	for _, item := range items {
		sess, err := itemToSession(item)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) scan(ctx context.Context, recordType string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		FilterExpression:         aws.String("#t = :t"),
		ExpressionAttributeNames: map[string]string{"#t": "recordType"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": str(recordType),
		},
	}
	var items []map[string]types.AttributeValue
	for {
		out, err := s.api.Scan(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) FindTrigger(ctx context.Context, keyword string) (*domain.Trigger, error) {
	item, err := s.get(ctx, triggerKey(keyword))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("dynamo: finding trigger %q: %w", keyword, err)
	}
	return itemToTrigger(item)
}

func (s *Store) ListTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	items, err := s.scan(ctx, typeTrigger)
	if err != nil {
		return nil, fmt.Errorf("dynamo: listing triggers: %w", err)
	}
	out := make([]*domain.Trigger, 0, len(items))
	for _, item := range items {
		t, err := itemToTrigger(item)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out, nil
}

// SaveTrigger upserts by keyword, keeping the ID and creation time of a
// trigger it replaces.
func (s *Store) SaveTrigger(ctx context.Context, t *domain.Trigger) error {
	t.Keyword = domain.NormalizeKeyword(t.Keyword)
	t.FinalResponse = domain.Truncate(t.FinalResponse, domain.MaxFinalResponseLen)

	existing, err := s.FindTrigger(ctx, t.Keyword)
	switch {
	case err == nil:
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	item, err := triggerItem(t)
	if err != nil {
		return err
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: item}); err != nil {
		return fmt.Errorf("dynamo: saving trigger %q: %w", t.Keyword, err)
	}
	return nil
}

func (s *Store) DeleteTrigger(ctx context.Context, keyword string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 triggerKey(keyword),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if isConditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("dynamo: deleting trigger %q: %w", keyword, err)
	}
	return nil
}

// LogMessage writes one message item under the conversation partition.
func (s *Store) LogMessage(ctx context.Context, m domain.LoggedMessage) error {
	if m.Date.IsZero() {
		m.Date = time.Now()
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      messageItem(m, uuid.New().String()[:8]),
	})
	if err != nil {
		s.log.Error().Err(err).Str("conversation", m.Conversation).Msg("failed to log message")
		return fmt.Errorf("dynamo: logging message: %w", err)
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, conversation string, from, to time.Time) ([]domain.LoggedMessage, error) {
	hi := skMsg + "~"
	if !to.IsZero() {
		hi = skMsg + formatTime(to) + "~"
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :lo AND :hi"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": str(pkConv + conversation),
			":lo": str(skMsg + formatTime(from)),
			":hi": str(hi),
		},
		ScanIndexForward: aws.Bool(true),
	}

	var out []domain.LoggedMessage
	for {
		page, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("dynamo: querying messages: %w", err)
		}
		for _, item := range page.Items {
			m, err := itemToMessage(conversation, item)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// cancelledAt reports, per transaction item, whether its condition check
// failed. It returns nil unless err is a cancelled transaction.
func cancelledAt(err error) []bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	failed := make([]bool, len(tce.CancellationReasons))
	for i, r := range tce.CancellationReasons {
		failed[i] = aws.ToString(r.Code) == "ConditionalCheckFailed"
	}
	return failed
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
