package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"jobchat/internal/models"
)

func endpointKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:16])
}

// AddPushSubscription stores sub for userID. Registering the same endpoint
// again replaces it.
func (s *BboltStorage) AddPushSubscription(userID string, sub models.PushSubscription) error {
	if sub.Endpoint == "" {
		return errors.New("push subscription missing endpoint")
	}
	return s.Set(PushSubscriptionPath(userID, endpointKey(sub.Endpoint)), sub)
}

func (s *BboltStorage) PushSubscriptions(userID string) ([]models.PushSubscription, error) {
	children, err := List[models.PushSubscription](s, PushSubscriptionsPath(userID))
	if err != nil {
		return nil, err
	}
	subs := make([]models.PushSubscription, 0, len(children))
	for _, c := range children {
		subs = append(subs, c.Value)
	}
	return subs, nil
}

func (s *BboltStorage) RemovePushSubscription(userID, endpoint string) error {
	return s.Delete(PushSubscriptionPath(userID, endpointKey(endpoint)))
}
