package backend

import (
	"fmt"
	"strings"

	"github.com/kkiling/kafka-client/consumer"
	"github.com/kkiling/kafka-client/consumer/consumer_impl"
	saramaconsumer "github.com/kkiling/kafka-client/consumer/sarama_impl"
	"github.com/kkiling/kafka-client/internal/config"
	"github.com/kkiling/kafka-client/producer"
	producer_impl "github.com/kkiling/kafka-client/producer/producer.impl"
	saramaproducer "github.com/kkiling/kafka-client/producer/sarama_impl"
	"github.com/kkiling/kafka-client/topicconf"
	"github.com/rs/zerolog/log"
)

func ConfluentConsumerCfg(cfg *config.Config) consumer_impl.Cfg {
	return consumer_impl.Cfg{
		BootstrapServers:  cfg.Kafka.Brokers,
		GroupId:           cfg.Kafka.GroupId,
		ClientId:          cfg.Kafka.ClientId,
		AutoOffsetReset:   strings.ToLower(cfg.Kafka.AutoOffsetReset),
		DisableAutoCommit: cfg.Kafka.DisableAutoCommit,
		Extra:             cfg.KafkaExtra(),
	}
}

func SaramaConsumerCfg(cfg *config.Config) saramaconsumer.Cfg {
	return saramaconsumer.Cfg{
		BootstrapServers:  cfg.Kafka.Brokers,
		GroupId:           cfg.Kafka.GroupId,
		ClientId:          cfg.Kafka.ClientId,
		Version:           cfg.Kafka.Version,
		AutoOffsetReset:   strings.ToLower(cfg.Kafka.AutoOffsetReset),
		DisableAutoCommit: cfg.Kafka.DisableAutoCommit,
	}
}

func ConfluentProducerCfg(cfg *config.Config) producer_impl.Cfg {
	return producer_impl.Cfg{
		BootstrapServers: cfg.Kafka.Brokers,
		ClientId:         cfg.Kafka.ClientId,
		FlushTimeoutMs:   cfg.Kafka.FlushTimeoutMs,
		Extra:            cfg.KafkaExtra(),
	}
}

func SaramaProducerCfg(cfg *config.Config) saramaproducer.Cfg {
	return saramaproducer.Cfg{
		BootstrapServers: cfg.Kafka.Brokers,
		ClientId:         cfg.Kafka.ClientId,
		Version:          cfg.Kafka.Version,
		RequiredAcks:     strings.ToLower(cfg.Kafka.RequiredAcks),
		Compression:      strings.ToLower(cfg.Kafka.Compression),
	}
}

// NewConsumer consumer-хендл выбранного бэкенда.
func NewConsumer(cfg *config.Config) (consumer.Consumer, error) {
	switch cfg.Backend {
	case config.BackendConfluent:
		c, err := consumer_impl.NewConsumer(ConfluentConsumerCfg(cfg), topicconf.Config(cfg.TopicDefaults()))
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendSarama:
		c, err := saramaconsumer.NewConsumer(SaramaConsumerCfg(cfg))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// NewProducer producer-хендл выбранного бэкенда. onDelivery может быть nil,
// тогда ошибки доставки только логируются адаптером.
func NewProducer(cfg *config.Config, onDelivery producer.DeliveryHandler) (producer.Producer, error) {
	switch cfg.Backend {
	case config.BackendConfluent:
		p, err := producer_impl.NewProducer(ConfluentProducerCfg(cfg), topicconf.Config(cfg.TopicDefaults()), onDelivery)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.BackendSarama:
		p, err := saramaproducer.NewProducer(SaramaProducerCfg(cfg), onDelivery)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// LogDelivery пишет успешные доставки в debug, ошибки логирует сам адаптер.
func LogDelivery(d producer.Delivery) {
	if d.Error != nil {
		return
	}
	log.Debug().Interface("opaque", d.Opaque).
		Msgf("delivered - %s[%d]@%d", d.Topic, d.Partition, d.Offset)
}
