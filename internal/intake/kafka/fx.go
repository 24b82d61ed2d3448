package kafka

import (
	"context"

	"github.com/rcarraroia/slim-quality-sub008/internal/config"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("intake.kafka",
	fx.Invoke(Register),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Intake    intakedomain.Service
	Log       *zap.Logger
}

// Register starts the order consumer when brokers and a topic are configured.
func Register(p Params) {
	if !p.Config.Kafka.Enabled() {
		p.Log.Info("kafka intake disabled")
		return
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  p.Config.Kafka.Brokers,
		Topic:    p.Config.Kafka.OrderTopic,
		GroupID:  p.Config.Kafka.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	consumer := NewConsumer(reader, p.Intake, p.Log)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return consumer.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			return consumer.Stop()
		},
	})
}
