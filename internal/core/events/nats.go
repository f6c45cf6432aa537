package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher *nats.Conn 的最小发布接口
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher 事件编码为 JSON，发布到 prefix.<type>
type NATSPublisher struct {
	pub    Publisher
	prefix string
}

func NewNATSPublisher(pub Publisher, prefix string) *NATSPublisher {
	return &NATSPublisher{pub: pub, prefix: strings.Trim(prefix, ".")}
}

// Connect 连接 url，断线/重连通过 l 记日志
func Connect(url string, l *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("catalog-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) PublishJSON(eventType string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	if err := p.pub.Publish(p.Subject(eventType), b); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
