// Package archive defines the JetStream stream shared by the API gateway
// (publisher) and the archival worker (consumer).
package archive

import (
	"time"

	"github.com/aaronwang/zecond/shared/models"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig is the archive stream definition.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        models.ArchiveStream,
		Description: "Bid and auction-winner events for archival",
		Subjects:    []string{models.BidSubjectPrefix + "*", models.WinnerSubjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy, // Each message consumed once
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	}
}

// ConsumerConfig is the durable consumer the archival worker pulls from.
func ConsumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       models.ArchivalConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}
