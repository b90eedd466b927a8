package cart

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

const subjectPrefix = "storefront.cart."

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// UpdateMessage is published after every cart mutation.
type UpdateMessage struct {
	DeviceID string          `json:"device_id"`
	Cart     models.CartView `json:"cart"`
	At       time.Time       `json:"at"`
}

// Broadcaster fans cart updates out to UI surfaces listening on the bus.
type Broadcaster struct {
	pub    Publisher
	logger *zap.Logger
}

func NewBroadcaster(pub Publisher, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{pub: pub, logger: logger}
}

// UpdateSubject is the subject a device's cart updates are published on.
func UpdateSubject(deviceID string) string {
	return subjectPrefix + subjectToken(deviceID) + ".updated"
}

// Listener returns a cart.Listener publishing each snapshot. Failures are logged only.
func (b *Broadcaster) Listener() Listener {
	return func(key string, state models.CartState) {
		data, err := json.Marshal(UpdateMessage{
			DeviceID: key,
			Cart:     state.View(),
			At:       time.Now().UTC(),
		})
		if err != nil {
			b.logger.Warn("Failed to marshal cart update", zap.String("device_id", key), zap.Error(err))
			return
		}
		if err = b.pub.Publish(UpdateSubject(key), data); err != nil {
			b.logger.Warn("Failed to publish cart update", zap.String("device_id", key), zap.Error(err))
		}
	}
}

// subjectToken makes deviceID safe to use as a single NATS subject token.
func subjectToken(deviceID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, deviceID)
}
