package subscriptions

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// mergeRequestData overwrites keys of stored with the values incoming has for them.
// Keys only present in incoming are ignored.
func mergeRequestData(stored, incoming json.RawMessage) (json.RawMessage, error) {
	var storedDoc map[string]json.RawMessage
	if err := json.Unmarshal(stored, &storedDoc); err != nil {
		return nil, fmt.Errorf("%w: stored request: %w", ErrSubscriptionData, err)
	}
	if storedDoc == nil {
		return nil, fmt.Errorf("%w: stored request is not an object", ErrSubscriptionData)
	}

	var incomingDoc map[string]json.RawMessage
	if err := json.Unmarshal(incoming, &incomingDoc); err != nil {
		return nil, fmt.Errorf("%w: incoming request: %w", ErrSubscriptionData, err)
	}

	for key := range storedDoc {
		if value, ok := incomingDoc[key]; ok {
			storedDoc[key] = value
		}
	}

	merged, err := json.Marshal(storedDoc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionData, err)
	}
	return merged, nil
}

// normalizeEventTypes trims and NFC-normalizes event types, dropping empty
// entries and duplicates while keeping the first occurrence order.
func normalizeEventTypes(eventTypes []string) []string {
	result := make([]string, 0, len(eventTypes))
	seen := make(map[string]struct{}, len(eventTypes))

	for _, t := range eventTypes {
		t = norm.NFC.String(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}

	return result
}
