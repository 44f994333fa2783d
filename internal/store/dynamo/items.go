package dynamo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/soyeahso/smsforms/internal/domain"
)

const (
	pkSession = "SESSION#"
	pkConv    = "CONV#"
	pkTrigger = "TRIGGER#"
	skMeta    = "META"
	skOpen    = "OPEN"
	skMsg     = "MSG#"

	typeSession = "session"
	typeTrigger = "trigger"
	typeMessage = "message"
)

// timeLayout is fixed-width so timestamps compare lexically in key
// conditions.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func sessionKey(id string) map[string]types.AttributeValue { return key(pkSession+id, skMeta) }

func lockKey(conv string) map[string]types.AttributeValue { return key(pkConv+conv, skOpen) }

func triggerKey(kw string) map[string]types.AttributeValue {
	return key(pkTrigger+domain.NormalizeKeyword(kw), skMeta)
}

func str(v string) types.AttributeValue  { return &types.AttributeValueMemberS{Value: v} }
func boolean(v bool) types.AttributeValue { return &types.AttributeValueMemberBOOL{Value: v} }

func sessionItem(s *domain.Session) map[string]types.AttributeValue {
	item := sessionKey(s.ID)
	item["recordType"] = str(typeSession)
	item["conversation"] = str(s.Conversation.String())
	item["replyTo"] = str(s.ReplyTo)
	item["formSessionId"] = str(s.FormSessionID)
	item["triggerId"] = str(s.TriggerID)
	item["keyword"] = str(s.Keyword)
	item["formPath"] = str(s.FormPath)
	item["startTime"] = str(formatTime(s.StartTime))
	item["modifiedTime"] = str(formatTime(s.ModifiedTime))
	item["ended"] = boolean(s.Ended)
	item["cancelled"] = boolean(s.Cancelled)
	item["hasError"] = boolean(s.HasError)
	item["errorMsg"] = str(s.ErrorMsg)
	if s.EndTime != nil {
		item["endTime"] = str(formatTime(*s.EndTime))
	}
	if len(s.LastResponse) > 0 {
		item["lastResponse"] = str(string(s.LastResponse))
	}
	return item
}

func itemToSession(item map[string]types.AttributeValue) (*domain.Session, error) {
	id, err := strAttr(item, "PK")
	if err != nil {
		return nil, err
	}
	convStr, err := strAttr(item, "conversation")
	if err != nil {
		return nil, err
	}
	conv, err := domain.ParseConversationKey(convStr)
	if err != nil {
		return nil, fmt.Errorf("dynamo: session %s: %w", id, err)
	}
	start, err := timeAttr(item, "startTime")
	if err != nil {
		return nil, err
	}
	modified, err := timeAttr(item, "modifiedTime")
	if err != nil {
		return nil, err
	}

	s := &domain.Session{
		ID:            id[len(pkSession):],
		Conversation:  conv,
		ReplyTo:       optStr(item, "replyTo"),
		FormSessionID: optStr(item, "formSessionId"),
		TriggerID:     optStr(item, "triggerId"),
		Keyword:       optStr(item, "keyword"),
		FormPath:      optStr(item, "formPath"),
		StartTime:     start,
		ModifiedTime:  modified,
		Ended:         boolAttr(item, "ended"),
		Cancelled:     boolAttr(item, "cancelled"),
		HasError:      boolAttr(item, "hasError"),
		ErrorMsg:      optStr(item, "errorMsg"),
	}
	if _, ok := item["endTime"]; ok {
		end, err := timeAttr(item, "endTime")
		if err != nil {
			return nil, err
		}
		s.EndTime = &end
	}
	if raw := optStr(item, "lastResponse"); raw != "" {
		s.LastResponse = json.RawMessage(raw)
	}
	return s, nil
}

func lockItem(s *domain.Session) map[string]types.AttributeValue {
	item := lockKey(s.Conversation.String())
	item["sessionId"] = str(s.ID)
	return item
}

func triggerItem(t *domain.Trigger) (map[string]types.AttributeValue, error) {
	item := triggerKey(t.Keyword)
	item["recordType"] = str(typeTrigger)
	item["id"] = str(t.ID)
	item["keyword"] = str(t.Keyword)
	item["formPath"] = str(t.FormPath)
	item["language"] = str(t.Language)
	item["finalResponse"] = str(t.FinalResponse)
	item["createdAt"] = str(formatTime(t.CreatedAt))
	if len(t.Context) > 0 {
		raw, err := json.Marshal(t.Context)
		if err != nil {
			return nil, fmt.Errorf("dynamo: encoding trigger context: %w", err)
		}
		item["context"] = str(string(raw))
	}
	return item, nil
}

func itemToTrigger(item map[string]types.AttributeValue) (*domain.Trigger, error) {
	kw, err := strAttr(item, "keyword")
	if err != nil {
		return nil, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return nil, err
	}
	t := &domain.Trigger{
		ID:            optStr(item, "id"),
		Keyword:       kw,
		FormPath:      optStr(item, "formPath"),
		Language:      optStr(item, "language"),
		FinalResponse: optStr(item, "finalResponse"),
		CreatedAt:     created,
	}
	if raw := optStr(item, "context"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Context); err != nil {
			return nil, fmt.Errorf("dynamo: trigger %s context: %w", kw, err)
		}
	}
	return t, nil
}

func messageItem(m domain.LoggedMessage, suffix string) map[string]types.AttributeValue {
	item := key(pkConv+m.Conversation, skMsg+formatTime(m.Date)+"#"+suffix)
	item["recordType"] = str(typeMessage)
	item["direction"] = str(string(m.Direction))
	item["body"] = str(m.Text)
	item["sentAt"] = str(formatTime(m.Date))
	return item
}

func itemToMessage(conv string, item map[string]types.AttributeValue) (domain.LoggedMessage, error) {
	body, err := strAttr(item, "body")
	if err != nil {
		return domain.LoggedMessage{}, err
	}
	date, err := timeAttr(item, "sentAt")
	if err != nil {
		return domain.LoggedMessage{}, err
	}
	return domain.LoggedMessage{
		ID:           date.UnixNano(),
		Conversation: conv,
		Direction:    domain.Direction(optStr(item, "direction")),
		Text:         body,
		Date:         date,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, name string) (string, error) {
	v, ok := item[name]
	if !ok {
		return "", fmt.Errorf("dynamo: missing attribute %q", name)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamo: attribute %q is not a string", name)
	}
	return s.Value, nil
}

func optStr(item map[string]types.AttributeValue, name string) string {
	s, _ := strAttr(item, name)
	return s
}

func boolAttr(item map[string]types.AttributeValue, name string) bool {
	b, ok := item[name].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}

func timeAttr(item map[string]types.AttributeValue, name string) (time.Time, error) {
	s, err := strAttr(item, name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamo: parse attribute %q: %w", name, err)
	}
	return t, nil
}
