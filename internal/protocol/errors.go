package protocol

import (
	"fmt"
	"sort"
	"strings"
)

type Code string

const (
	CodeUserNotFound   Code = "USER_NOT_FOUND"
	CodeConnNotFound   Code = "CONN_NOT_FOUND"
	CodeSessNotFound   Code = "SESS_NOT_FOUND"
	CodeReqNotFound    Code = "REQ_NOT_FOUND"
	CodeDoubleSessMemb Code = "DOUBLE_SESS_MEMB"
	CodePermReq        Code = "PERM_REQ"

	// CodeBadMessage is reported by the transport binding for frames that
	// never reach the engine's state machine.
	CodeBadMessage Code = "BAD_MESSAGE"
)

// Placeholder keys used in Details.
const (
	KeyUserName   = "uname"
	KeySessionID  = "sessid"
	KeyConnection = "connid"
	KeyAction     = "aname"
	KeyUser       = "user"
	KeyReason     = "reason"
)

var errorTemplates = map[Code]string{
	CodeUserNotFound:   "User {uname} has not been found",
	CodeConnNotFound:   "Connection {connid} has not been found",
	CodeSessNotFound:   "Session {sessid} has not been found",
	CodeReqNotFound:    "Request of user {uname} has not been found",
	CodeDoubleSessMemb: "User {uname} is already a member of session {sessid}",
	CodePermReq:        "User {uname} is not permitted to perform {aname}",
	CodeBadMessage:     "Message has been rejected: {reason}",
}

// NewError builds an error envelope; the human readable text is the code's
// template with details substituted.
func NewError(code Code, details Details) *Message {
	template, ok := errorTemplates[code]
	if !ok {
		template = string(code)
	}
	return &Message{
		Type:    TypeError,
		Code:    code,
		Details: details,
		Text:    Format(template, details),
	}
}

// Format substitutes {key} placeholders with the matching detail values.
// Unknown placeholders are left untouched.
func Format(template string, details Details) string {
	if len(details) == 0 || !strings.Contains(template, "{") {
		return template
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		v, ok := placeholderValue(details[k])
		if !ok {
			continue
		}
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func placeholderValue(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	case User, *User, map[string]any:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}
