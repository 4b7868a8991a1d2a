package clients

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/segmentio/kafka-go"
)

// EnsureTopic создаёт топик через контроллер кластера, если его ещё нет.
func EnsureTopic(ctx context.Context, cfg *cfg.KafkaCfg) error {
	if len(cfg.Brokers) == 0 {
		return e.Wrap(whereami.WhereAmI(), e.ErrMissingFields)
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, cfg.NetworkMode, cfg.Brokers[0])
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	ctrlConn, err := dialer.DialContext(ctx, cfg.NetworkMode, net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer ctrlConn.Close()

	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.Topic,
		NumPartitions:     cfg.Partitions,
		ReplicationFactor: cfg.ReplicationFactor,
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
