package notification

import "regexp"

// Lifecycle event values sent by the provider on the lifecycle endpoint.
const (
	// LifecycleReauthorizationRequired signals that the subscription must
	// be renewed before it expires.
	LifecycleReauthorizationRequired = "reauthorizationRequired"

	// LifecycleSubscriptionRemoved signals that the provider removed the
	// subscription; a new one has to be created to keep receiving events.
	LifecycleSubscriptionRemoved = "subscriptionRemoved"

	// LifecycleMissed signals that the provider dropped notifications and
	// clients should re-fetch resource state.
	LifecycleMissed = "missed"
)

// Payload is the body of an inbound webhook call. Validation tokens are
// present when the subscription includes resource data and must all verify
// before any contained notification is trusted.
type Payload struct {
	ValidationTokens []string             `json:"validationTokens,omitempty"`
	Value            []ChangeNotification `json:"value"`
}

// ResourceData carries the minimal identifying fields of the changed
// resource for notifications without resource data included.
type ResourceData struct {
	ODataType string `json:"@odata.type,omitempty"`
	ODataID   string `json:"@odata.id,omitempty"`
	ID        string `json:"id,omitempty"`
}

// EncryptedContent is the opaque envelope carried by notifications with
// resource data included: AES ciphertext, an RSA-wrapped symmetric key and
// an HMAC signature over the ciphertext.
type EncryptedContent struct {
	Data                    string `json:"data"`
	DataKey                 string `json:"dataKey"`
	DataSignature           string `json:"dataSignature"`
	EncryptionCertificateID string `json:"encryptionCertificateId,omitempty"`
}

// ChangeNotification is a single inbound event as received from the
// provider. Resource-change and lifecycle notifications share this shape;
// lifecycle ones carry LifecycleEvent and no resource payload.
type ChangeNotification struct {
	SubscriptionID   string            `json:"subscriptionId"`
	ClientState      string            `json:"clientState,omitempty"`
	ChangeType       string            `json:"changeType,omitempty"`
	Resource         string            `json:"resource,omitempty"`
	TenantID         string            `json:"tenantId,omitempty"`
	ResourceData     *ResourceData     `json:"resourceData,omitempty"`
	EncryptedContent *EncryptedContent `json:"encryptedContent,omitempty"`
	LifecycleEvent   string            `json:"lifecycleEvent,omitempty"`
}

// EventKind discriminates relay events by resource kind
type EventKind string

const (
	// KindMessage is a mailbox message change (resource re-fetched from
	// the provider, no resource data in the notification)
	KindMessage EventKind = "message"

	// KindChatMessage is a decrypted Teams message payload
	KindChatMessage EventKind = "chatMessage"

	// KindChannel is a decrypted channel message enriched with the team
	// and channel identifiers parsed from the resource path
	KindChannel EventKind = "channel"
)

// Event is the unit of relay fan-out: a discriminated union over resource
// kind, carrying only what a downstream consumer needs to render or
// re-fetch detail.
type Event struct {
	Type     EventKind `json:"type"`
	Resource any       `json:"resource"`
}

// MessageResource is the minimal payload for mailbox message events
type MessageResource struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
}

// ChannelResource identifies a channel message by its team, channel and
// message IDs.
type ChannelResource struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId,omitempty"`
}

// channelResourcePattern matches resource paths of channel message
// subscriptions, e.g. teams('{tid}')/channels('{cid}')/messages('{mid}').
var channelResourcePattern = regexp.MustCompile(`teams\('([^']+)'\)/channels\('([^']+)'\)`)

// ParseChannelResource extracts team and channel IDs from a notification's
// resource path. Returns false when the path is not a channel resource.
func ParseChannelResource(resource string) (teamID, channelID string, ok bool) {
	m := channelResourcePattern.FindStringSubmatch(resource)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Classify resolves a notification's event kind once at ingestion so that
// downstream code never re-inspects type strings.
func (n *ChangeNotification) Classify() EventKind {
	if n.EncryptedContent != nil {
		if _, _, ok := ParseChannelResource(n.Resource); ok {
			return KindChannel
		}
		return KindChatMessage
	}
	return KindMessage
}

// IsLifecycle reports whether this is a lifecycle notification rather than
// a resource change.
func (n *ChangeNotification) IsLifecycle() bool {
	return n.LifecycleEvent != ""
}
