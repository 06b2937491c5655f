package auth

import (
	"fmt"
	"time"
)

// Kind distinguishes the two principal populations. Each kind has its own tables and audit log.
type Kind string

const (
	KindUser  Kind = "user"
	KindAdmin Kind = "admin"
)

// ParseKind validates a kind read from an external source such as a token claim.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUser, KindAdmin:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("auth: unknown principal kind %q", s)
	}
}

func (k Kind) String() string { return string(k) }

const StatusActive = "active"

// Principal is an authenticable identity, either a user or an admin.
type Principal struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"-"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Status       string     `json:"status"`
	Role         string     `json:"role,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP  string     `json:"last_login_ip,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Active reports whether the principal may authenticate.
func (p *Principal) Active() bool {
	return p != nil && p.Status == StatusActive
}

// PrincipalUpdate lists the mutable principal fields; nil pointers are left unchanged.
type PrincipalUpdate struct {
	Name        *string
	Status      *string
	LastLoginAt *time.Time
	LastLoginIP *string
}

// Profile is the optional contact/locale/device extension of a user.
type Profile struct {
	UserID      string         `json:"user_id"`
	FirstName   string         `json:"first_name,omitempty"`
	LastName    string         `json:"last_name,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	CountryCode string         `json:"country_code,omitempty"`
	DOB         string         `json:"dob,omitempty"`
	Gender      string         `json:"gender,omitempty"`
	Avatar      string         `json:"avatar,omitempty"`
	Address     string         `json:"address,omitempty"`
	City        string         `json:"city,omitempty"`
	State       string         `json:"state,omitempty"`
	Country     string         `json:"country,omitempty"`
	Zip         string         `json:"zip,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Language    string         `json:"language,omitempty"`
	DeviceInfo  map[string]any `json:"device_info,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Permission is a named capability flag.
type Permission struct {
	ID          string
	Key         string
	Description string
	Enabled     bool
	CreatedAt   time.Time
}

// Audit actions and outcomes.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
	ActionLogout   = "logout"

	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// AuthEvent is one append-only authentication audit record.
type AuthEvent struct {
	ID          string
	PrincipalID *string
	Email       string
	Action      string
	Outcome     string
	IPAddress   string
	UserAgent   string
	DeviceInfo  map[string]any
	Location    map[string]any
	Message     string
	CreatedAt   time.Time
}

// Notification channels and delivery outcomes.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// NotificationRecord is the immutable log of one outbound message attempt.
type NotificationRecord struct {
	ID               string
	PrincipalID      string
	Channel          string
	To               string
	Subject          string
	Message          string
	Status           string
	ProviderResponse string
	CreatedAt        time.Time
}
