// Package records defines the typed payloads synced by devices: contacts,
// call logs, messages, notifications and email accounts. Each data type has
// an explicit field set and a dedup key that identifies a unique record
// within a device's scope.
package records

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DataType identifies one of the syncable record kinds.
type DataType string

// Supported data types.
const (
	DataTypeContacts      DataType = "contacts"
	DataTypeCallLogs      DataType = "call_logs"
	DataTypeMessages      DataType = "messages"
	DataTypeNotifications DataType = "notifications"
	DataTypeEmailAccounts DataType = "email_accounts"
)

// AllDataTypes returns every supported data type in a stable order.
func AllDataTypes() []DataType {
	return []DataType{
		DataTypeContacts,
		DataTypeCallLogs,
		DataTypeMessages,
		DataTypeNotifications,
		DataTypeEmailAccounts,
	}
}

// ParseDataType validates and normalizes a data type token.
func ParseDataType(s string) (DataType, error) {
	dt := DataType(strings.ToLower(strings.TrimSpace(s)))
	if !dt.Valid() {
		return "", fmt.Errorf("unsupported data type %q", s)
	}
	return dt, nil
}

// Valid reports whether the data type is one of the supported kinds.
func (dt DataType) Valid() bool {
	switch dt {
	case DataTypeContacts, DataTypeCallLogs, DataTypeMessages,
		DataTypeNotifications, DataTypeEmailAccounts:
		return true
	}
	return false
}

// Record is a single syncable payload. Key returns the dedup key that is
// unique within one device's scope; Validate rejects records that do not
// carry the fields required to store and deduplicate them.
type Record interface {
	DataType() DataType
	Key() string
	Validate() error
}

// keyJoin builds a multi-field dedup key. The separator cannot appear in
// device-supplied identifiers that are themselves single tokens.
func keyJoin(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

// Call type values accepted for call log records.
const (
	CallTypeIncoming = "INCOMING"
	CallTypeOutgoing = "OUTGOING"
	CallTypeMissed   = "MISSED"
	CallTypeRejected = "REJECTED"
	CallTypeBlocked  = "BLOCKED"
)

// Message type values accepted for message records.
const (
	MessageTypeSMS = "SMS"
	MessageTypeMMS = "MMS"
)

// Contact is an address book entry.
type Contact struct {
	ContactID    string   `json:"contactId"`
	Name         string   `json:"name"`
	PhoneNumber  string   `json:"phoneNumber"`
	PhoneType    string   `json:"phoneType,omitempty"`
	Emails       []string `json:"emails,omitempty"`
	Organization string   `json:"organization,omitempty"`
}

// DataType implements Record.
func (*Contact) DataType() DataType { return DataTypeContacts }

// Key implements Record. Contacts are unique per (device, contactId).
func (c *Contact) Key() string { return c.ContactID }

// Validate implements Record.
func (c *Contact) Validate() error {
	if c.ContactID == "" {
		return fmt.Errorf("contact: contactId is required")
	}
	if c.Name == "" {
		return fmt.Errorf("contact %s: name is required", c.ContactID)
	}
	if c.PhoneNumber == "" {
		return fmt.Errorf("contact %s: phoneNumber is required", c.ContactID)
	}
	return nil
}

// CallLog is one entry from the device call history.
type CallLog struct {
	CallID      string    `json:"callId"`
	PhoneNumber string    `json:"phoneNumber"`
	ContactName string    `json:"contactName,omitempty"`
	CallType    string    `json:"callType"`
	Timestamp   time.Time `json:"timestamp"`
	Duration    int       `json:"duration"`
}

// DataType implements Record.
func (*CallLog) DataType() DataType { return DataTypeCallLogs }

// Key implements Record. Call logs are unique per (device, callId).
func (c *CallLog) Key() string { return c.CallID }

// Validate implements Record.
func (c *CallLog) Validate() error {
	if c.CallID == "" {
		return fmt.Errorf("call log: callId is required")
	}
	if c.PhoneNumber == "" {
		return fmt.Errorf("call log %s: phoneNumber is required", c.CallID)
	}
	switch c.CallType {
	case CallTypeIncoming, CallTypeOutgoing, CallTypeMissed, CallTypeRejected, CallTypeBlocked:
	default:
		return fmt.Errorf("call log %s: invalid callType %q", c.CallID, c.CallType)
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("call log %s: timestamp is required", c.CallID)
	}
	if c.Duration < 0 {
		return fmt.Errorf("call log %s: duration cannot be negative", c.CallID)
	}
	return nil
}

// Message is an SMS or MMS message.
type Message struct {
	MessageID  string    `json:"messageId"`
	Address    string    `json:"address"`
	Body       string    `json:"body"`
	Type       string    `json:"type"`
	IsIncoming bool      `json:"isIncoming"`
	IsRead     bool      `json:"isRead"`
	Timestamp  time.Time `json:"timestamp"`
}

// DataType implements Record.
func (*Message) DataType() DataType { return DataTypeMessages }

// Key implements Record. Messages are unique per (device, messageId, type).
func (m *Message) Key() string { return keyJoin(m.MessageID, m.Type) }

// Validate implements Record.
func (m *Message) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("message: messageId is required")
	}
	if m.Address == "" {
		return fmt.Errorf("message %s: address is required", m.MessageID)
	}
	if m.Body == "" {
		return fmt.Errorf("message %s: body is required", m.MessageID)
	}
	switch m.Type {
	case MessageTypeSMS, MessageTypeMMS:
	default:
		return fmt.Errorf("message %s: invalid type %q", m.MessageID, m.Type)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("message %s: timestamp is required", m.MessageID)
	}
	return nil
}

// Notification is one posted status bar notification.
type Notification struct {
	NotificationID string    `json:"notificationId"`
	PackageName    string    `json:"packageName"`
	AppName        string    `json:"appName,omitempty"`
	Title          string    `json:"title"`
	Text           string    `json:"text,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// DataType implements Record.
func (*Notification) DataType() DataType { return DataTypeNotifications }

// Key implements Record. Notifications are unique per (device, notificationId).
func (n *Notification) Key() string { return n.NotificationID }

// Validate implements Record.
func (n *Notification) Validate() error {
	if n.NotificationID == "" {
		return fmt.Errorf("notification: notificationId is required")
	}
	if n.PackageName == "" {
		return fmt.Errorf("notification %s: packageName is required", n.NotificationID)
	}
	if n.Title == "" {
		return fmt.Errorf("notification %s: title is required", n.NotificationID)
	}
	if n.Timestamp.IsZero() {
		return fmt.Errorf("notification %s: timestamp is required", n.NotificationID)
	}
	return nil
}

// EmailAccount describes a mail account configured on the device.
type EmailAccount struct {
	AccountID      string `json:"accountId"`
	EmailAddress   string `json:"emailAddress"`
	AccountName    string `json:"accountName,omitempty"`
	Provider       string `json:"provider,omitempty"`
	AccountType    string `json:"accountType,omitempty"`
	ServerIncoming string `json:"serverIncoming,omitempty"`
	ServerOutgoing string `json:"serverOutgoing,omitempty"`
	PortIncoming   int    `json:"portIncoming,omitempty"`
	PortOutgoing   int    `json:"portOutgoing,omitempty"`
	IsActive       bool   `json:"isActive"`
	IsDefault      bool   `json:"isDefault"`
	SyncEnabled    bool   `json:"syncEnabled"`
}

// DataType implements Record.
func (*EmailAccount) DataType() DataType { return DataTypeEmailAccounts }

// Key implements Record. Email accounts are unique per (device, emailAddress).
func (e *EmailAccount) Key() string { return e.EmailAddress }

// Validate implements Record.
func (e *EmailAccount) Validate() error {
	if e.EmailAddress == "" {
		return fmt.Errorf("email account: emailAddress is required")
	}
	if e.AccountID == "" {
		return fmt.Errorf("email account %s: accountId is required", e.EmailAddress)
	}
	if !strings.Contains(e.EmailAddress, "@") {
		return fmt.Errorf("email account %s: emailAddress is not an address", e.EmailAddress)
	}
	return nil
}

// Parse decodes a raw payload entry into the typed record for the given data
// type and validates it. The error identifies the offending record where the
// payload carries an identifier.
func Parse(dt DataType, raw json.RawMessage) (Record, error) {
	var rec Record
	switch dt {
	case DataTypeContacts:
		rec = &Contact{}
	case DataTypeCallLogs:
		rec = &CallLog{}
	case DataTypeMessages:
		rec = &Message{}
	case DataTypeNotifications:
		rec = &Notification{}
	case DataTypeEmailAccounts:
		rec = &EmailAccount{}
	default:
		return nil, fmt.Errorf("unsupported data type %q", dt)
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", dt, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
