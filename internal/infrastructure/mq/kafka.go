package mq

import (
	"fmt"
	"log"

	"paysettle/internal/config"

	"github.com/IBM/sarama"
)

// Publisher 出站消息投递接口，OutboxSender 依赖它而不是具体的 Kafka 实现
type Publisher interface {
	Publish(topic, key, value string) error
	Close() error
}

// KafkaPublisher 基于同步生产者，Publish 返回即代表 broker 已确认
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func NewProducerConfig() *sarama.Config {
	c := sarama.NewConfig()
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = true
	c.Producer.Idempotent = false
	return c
}

func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// InitKafka kafka 未启用时返回 nil，结算结果只落本地消息表
func InitKafka(cfg *config.KafkaConfig) *KafkaPublisher {
	if !cfg.Enabled {
		log.Println("Kafka 未启用，结算结果消息只写入本地消息表")
		return nil
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		log.Fatalf("创建 Kafka 生产者失败: %v", err)
	}

	log.Println("Kafka 生产者创建成功")
	return NewKafkaPublisher(producer)
}

// Publish 以 order_reference 作为 key，同一笔交易的消息落在同一分区，保持顺序
func (p *KafkaPublisher) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到 %s 失败: %w", topic, err)
	}
	log.Printf("[Kafka] 消息发送成功: topic=%s, key=%s, partition=%d, offset=%d", topic, key, partition, offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
