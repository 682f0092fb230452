package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// EnsureTopic creates topic when the cluster does not have it yet.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int32, replication int16) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return err
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, detail := range resp {
		if err := topicCreateErr(detail.Err); err != nil {
			return fmt.Errorf("create topic %s: %w", detail.Topic, err)
		}
	}
	log.Info().Str("topic", topic).Msg("event topic ensured")
	return nil
}

func topicCreateErr(err error) error {
	if err == nil || errors.Is(err, kerr.TopicAlreadyExists) {
		return nil
	}
	return err
}
