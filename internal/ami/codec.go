package ami

import (
	"bytes"
	"strings"
	"time"
)

// Field is a single Key: Value line of a manager frame.
type Field struct {
	Key   string
	Value string
}

// Fields is an ordered field list. Wire order and duplicate keys are
// preserved; events like queue-member listings repeat keys.
type Fields []Field

// Add appends a field.
func (f *Fields) Add(key, value string) {
	*f = append(*f, Field{Key: key, Value: value})
}

// Get returns the first value for key, matching case-insensitively.
// The peer is not consistent about ActionID vs ActionId casing.
func (f Fields) Get(key string) string {
	for _, fl := range f {
		if strings.EqualFold(fl.Key, key) {
			return fl.Value
		}
	}
	return ""
}

// Values returns every value for key in wire order.
func (f Fields) Values(key string) []string {
	var out []string
	for _, fl := range f {
		if strings.EqualFold(fl.Key, key) {
			out = append(out, fl.Value)
		}
	}
	return out
}

// Has reports whether key is present.
func (f Fields) Has(key string) bool {
	for _, fl := range f {
		if strings.EqualFold(fl.Key, key) {
			return true
		}
	}
	return false
}

// Len returns the number of fields.
func (f Fields) Len() int {
	return len(f)
}

// Map flattens the fields to a plain map. The first value wins for
// duplicate keys, consistent with Get.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, fl := range f {
		if _, ok := m[fl.Key]; !ok {
			m[fl.Key] = fl.Value
		}
	}
	return m
}

// Message is a decoded manager frame: either an *Event or a *Response.
type Message interface {
	message()
}

// Event is an unsolicited notification from the peer. List results carry
// the ActionID of the action that produced them.
type Event struct {
	Name       string
	ActionID   string
	Fields     Fields
	ReceivedAt time.Time
}

func (*Event) message() {}

// Response is the peer's reply to a submitted action.
type Response struct {
	ActionID string
	Success  bool
	Message  string // Peer-supplied text, often empty on success
	Fields   Fields
}

func (*Response) message() {}

// Decode classifies a framed block. A Response field makes it a response,
// an Event field makes it an event, anything else is a *DecodeError.
func Decode(frame Fields) (Message, error) {
	if v := frame.Get("Response"); v != "" {
		return &Response{
			ActionID: frame.Get("ActionID"),
			Success:  isSuccess(v),
			Message:  frame.Get("Message"),
			Fields:   frame,
		}, nil
	}
	if v := frame.Get("Event"); v != "" {
		return &Event{
			Name:     v,
			ActionID: frame.Get("ActionID"),
			Fields:   frame,
		}, nil
	}
	return nil, &DecodeError{Frame: frame}
}

// isSuccess accepts the two affirmative response values. Command output
// arrives under "Follows".
func isSuccess(v string) bool {
	return strings.EqualFold(v, "Success") || strings.EqualFold(v, "Follows")
}

// Encode serializes an action request: Action and ActionID lines first,
// then params in insertion order, CRLF line ends, blank-line terminator.
// Values stay raw text; nothing is coerced or escaped. A key or value
// containing a line break fails with *EncodeError.
func Encode(action, actionID string, params Fields) ([]byte, error) {
	if err := checkField("Action", action); err != nil {
		return nil, err
	}
	if err := checkField("ActionID", actionID); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("Action: ")
	buf.WriteString(action)
	buf.WriteString("\r\n")
	if actionID != "" {
		buf.WriteString("ActionID: ")
		buf.WriteString(actionID)
		buf.WriteString("\r\n")
	}
	for _, fl := range params {
		if err := checkField(fl.Key, fl.Key); err != nil {
			return nil, err
		}
		if err := checkField(fl.Key, fl.Value); err != nil {
			return nil, err
		}
		buf.WriteString(fl.Key)
		buf.WriteString(": ")
		buf.WriteString(fl.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}

// checkField rejects text that would break the line framing.
func checkField(key, text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return &EncodeError{Key: key, Value: text}
	}
	return nil
}
