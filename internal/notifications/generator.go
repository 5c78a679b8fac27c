package notifications

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bissquit/event-notifications/internal/domain"
	"github.com/google/uuid"
)

// ClaimSet is the payload of a delivered security event token.
type ClaimSet struct {
	Issuer        string                     `json:"iss"`
	IssuedAt      int64                      `json:"iat"`
	Audience      string                     `json:"aud"`
	JTI           string                     `json:"jti"`
	TransactionID string                     `json:"txn"`
	TimeOfEvent   int64                      `json:"toe"`
	Subject       string                     `json:"sub"`
	Events        map[string]json.RawMessage `json:"events"`
}

// ResponseBuilder assembles claim-sets for notifications.
type ResponseBuilder struct {
	issuer string
	now    func() time.Time
	newTxn func() string
}

// NewResponseBuilder creates a builder stamping tokens with issuer.
func NewResponseBuilder(issuer string) *ResponseBuilder {
	return &ResponseBuilder{
		issuer: issuer,
		now:    time.Now,
		newTxn: uuid.NewString,
	}
}

// Build returns the claim-set for a notification and its events.
func (b *ResponseBuilder) Build(notification domain.Notification, events []domain.NotificationEvent) ClaimSet {
	payloads := make(map[string]json.RawMessage, len(events))
	for _, e := range events {
		info := e.EventInformation
		if len(info) == 0 {
			info = json.RawMessage("{}")
		}
		payloads[e.EventType] = info
	}

	return ClaimSet{
		Issuer:        b.issuer,
		IssuedAt:      b.now().Unix(),
		Audience:      notification.ClientID,
		JTI:           notification.ID,
		TransactionID: b.newTxn(),
		TimeOfEvent:   notification.UpdatedAt,
		Subject:       notification.ClientID,
		Events:        payloads,
	}
}

// Signer signs a JSON claim-set into a compact token.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// Generator produces the delivered token for a notification.
type Generator interface {
	Generate(notification domain.Notification, events []domain.NotificationEvent) (string, error)
}

// DefaultGeneratorName selects the claim-set builder plus signer generator.
const DefaultGeneratorName = "default"

// NewGenerator returns the generator registered under name.
func NewGenerator(name string, builder *ResponseBuilder, signer Signer) (Generator, error) {
	switch name {
	case DefaultGeneratorName, "":
		return &defaultGenerator{builder: builder, signer: signer}, nil
	default:
		return nil, fmt.Errorf("unknown notification generator %q", name)
	}
}

type defaultGenerator struct {
	builder *ResponseBuilder
	signer  Signer
}

func (g *defaultGenerator) Generate(notification domain.Notification, events []domain.NotificationEvent) (string, error) {
	claims := g.builder.Build(notification, events)

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claim-set: %w", err)
	}

	token, err := g.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign notification %s: %w", notification.ID, err)
	}
	return token, nil
}
