package kafka

import (
	"LiveDesk/logger"
	"LiveDesk/tools/safe"

	"github.com/Shopify/sarama"
)

var AsyncProd sarama.AsyncProducer

func InitAsyncProducerFromClient() error {
	p, err := sarama.NewAsyncProducerFromClient(KafkaClient)
	if err != nil {
		return err
	}
	AsyncProd = p

	safe.Go("kafka-async-drain", func() {
		for {
			select {
			case msg := <-AsyncProd.Successes():
				logger.Debugf("async message sent topic=%s partition=%d offset=%d", msg.Topic, msg.Partition, msg.Offset)
			case err := <-AsyncProd.Errors():
				logger.Warnf("async message error: %v", err)
			}
		}
	})

	return nil
}

// SendAsync 发后不管；生产者未初始化时静默跳过（报表订阅是可选旁路）。
func SendAsync(topic, key string, value []byte) {
	if AsyncProd == nil {
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	AsyncProd.Input() <- msg
}
