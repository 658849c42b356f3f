package bus

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectExtractionRequested = "uploads.extraction.requested"
	SubjectAlertNotification   = "alerts.notifications"
	SubjectUploadConfirmed     = "uploads.confirmed"

	QueueExtractionWorkers = "extraction-workers"
)

// ExtractionTask asks a worker to run extraction for one upload.
type ExtractionTask struct {
	UploadID string `json:"upload_id"`
}

type Bus struct {
	Conn *nats.Conn
}

func Connect(url string, logger *slog.Logger) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("dcops-backend"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{Conn: conn}, nil
}

func (b *Bus) Close() {
	if b.Conn != nil {
		b.Conn.Drain()
		b.Conn.Close()
	}
}

func (b *Bus) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.Conn.Publish(subject, data)
}

// SubscribeExtractionTasks delivers each task to exactly one member of the
// worker queue group. Malformed messages are logged and dropped.
func (b *Bus) SubscribeExtractionTasks(logger *slog.Logger, handler func(ExtractionTask)) (*nats.Subscription, error) {
	return b.Conn.QueueSubscribe(SubjectExtractionRequested, QueueExtractionWorkers, func(msg *nats.Msg) {
		var task ExtractionTask
		if err := json.Unmarshal(msg.Data, &task); err != nil || task.UploadID == "" {
			logger.Warn("dropping malformed extraction task", slog.String("data", string(msg.Data)))
			return
		}
		handler(task)
	})
}

func (b *Bus) Healthy() bool {
	return b.Conn != nil && b.Conn.IsConnected()
}
