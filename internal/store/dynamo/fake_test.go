package dynamo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is a single-table in-memory DynamoDB. It understands the
// condition, filter and key expressions the store issues.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	txCalls  int
	lastTx   *dynamodb.TransactWriteItemsInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemID(k map[string]types.AttributeValue) string {
	return sv(k["PK"]) + "|" + sv(k["SK"])
}

func sv(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemID(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := itemID(in.Item)
	if !check(aws.ToString(in.ConditionExpression), in.ExpressionAttributeValues, f.items[id]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := itemID(in.Key)
	if !check(aws.ToString(in.ConditionExpression), in.ExpressionAttributeValues, f.items[id]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	f.lastTx = in

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	cancelled := false
	for i, ti := range in.TransactItems {
		code := "None"
		switch {
		case ti.Put != nil:
			if !check(aws.ToString(ti.Put.ConditionExpression), ti.Put.ExpressionAttributeValues, f.items[itemID(ti.Put.Item)]) {
				code = "ConditionalCheckFailed"
			}
		case ti.Delete != nil:
			if !check(aws.ToString(ti.Delete.ConditionExpression), ti.Delete.ExpressionAttributeValues, f.items[itemID(ti.Delete.Key)]) {
				code = "ConditionalCheckFailed"
			}
		}
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
		cancelled = cancelled || code != "None"
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[itemID(ti.Put.Item)] = ti.Put.Item
		case ti.Delete != nil:
			delete(f.items, itemID(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals := in.ExpressionAttributeValues
	pk, lo, hi := sv(vals[":pk"]), sv(vals[":lo"]), sv(vals[":hi"])

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		sk := sv(item["SK"])
		if sv(item["PK"]) == pk && sk >= lo && sk <= hi {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return sv(matched[i]["SK"]) < sv(matched[j]["SK"]) })
	items, last := f.page(matched, in.ExclusiveStartKey)
	return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: last}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attr := in.ExpressionAttributeNames["#t"]
	want := sv(in.ExpressionAttributeValues[":t"])

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if sv(item[attr]) == want {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return itemID(matched[i]) < itemID(matched[j]) })
	items, last := f.page(matched, in.ExclusiveStartKey)
	return &dynamodb.ScanOutput{Items: items, LastEvaluatedKey: last}, nil
}

// page returns the page after start, sized by pageSize when set.
func (f *fakeDynamo) page(sorted []map[string]types.AttributeValue, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	from := 0
	if start != nil {
		for i, item := range sorted {
			if itemID(item) == itemID(start) {
				from = i + 1
				break
			}
		}
	}
	rest := sorted[from:]
	if f.pageSize <= 0 || len(rest) <= f.pageSize {
		return rest, nil
	}
	last := rest[f.pageSize-1]
	return rest[:f.pageSize], key(sv(last["PK"]), sv(last["SK"]))
}

// check evaluates a condition made of OR-ed attribute_exists,
// attribute_not_exists and equality terms.
func check(expr string, vals map[string]types.AttributeValue, existing map[string]types.AttributeValue) bool {
	if expr == "" {
		return true
	}
	for _, term := range strings.Split(expr, " OR ") {
		term = strings.TrimSpace(term)
		switch {
		case strings.HasPrefix(term, "attribute_not_exists("):
			if _, ok := existing[strings.TrimSuffix(strings.TrimPrefix(term, "attribute_not_exists("), ")")]; !ok {
				return true
			}
		case strings.HasPrefix(term, "attribute_exists("):
			if _, ok := existing[strings.TrimSuffix(strings.TrimPrefix(term, "attribute_exists("), ")")]; ok {
				return true
			}
		default:
			name, placeholder, ok := strings.Cut(term, " = ")
			if ok && existing != nil && sameValue(existing[name], vals[placeholder]) {
				return true
			}
		}
	}
	return false
}

func sameValue(a, b types.AttributeValue) bool {
	switch a := a.(type) {
	case *types.AttributeValueMemberS:
		b, ok := b.(*types.AttributeValueMemberS)
		return ok && a.Value == b.Value
	case *types.AttributeValueMemberBOOL:
		b, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && a.Value == b.Value
	}
	return false
}
