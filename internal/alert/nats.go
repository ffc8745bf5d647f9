package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

// msgPublisher is satisfied by *nats.Conn.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes alerts to subject.<owner>. The alert ID is set as the
// message ID so JetStream streams can deduplicate retries.
type NATSSink struct {
	conn    msgPublisher
	subject string
}

var _ lending.AlertSink = (*NATSSink)(nil)

// DialNATS connects to url and returns a sink with its connection.
func DialNATS(url, subject string, logger *zap.Logger) (*NATSSink, *nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("lending-health-alerts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSSink(nc, subject), nc, nil
}

func NewNATSSink(conn msgPublisher, subject string) *NATSSink {
	if subject == "" {
		subject = "lending.alerts"
	}
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Emit(ctx context.Context, a model.HealthAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(a)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(s.subject + "." + a.Owner.Hex())
	msg.Header.Set(nats.MsgIdHdr, a.ID)
	msg.Data = data
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
