package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds commands
// into the core via the commandChan. JetStream is the primary
// high-throughput ingestion surface; each command type has its own subject.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
}

// RawCommand is the received-but-untyped command from NATS, ready for the
// shell to parse into a typed event.Command before sending to the core.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to command types.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Pool
// commands and governance commands live on separate streams so the two
// partition families scale independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "pool.create.>", CommandType: "CreatePool", ConsumerName: "core-pool-create", StreamName: "POOL_COMMANDS"},
		{Subject: "pool.invest.>", CommandType: "Invest", ConsumerName: "core-pool-invest", StreamName: "POOL_COMMANDS"},
		{Subject: "pool.divest.>", CommandType: "Divest", ConsumerName: "core-pool-divest", StreamName: "POOL_COMMANDS"},
		{Subject: "pool.exchange.>", CommandType: "Exchange", ConsumerName: "core-pool-exchange", StreamName: "POOL_COMMANDS"},
		{Subject: "pool.sweep.>", CommandType: "CommissionSweep", ConsumerName: "core-pool-sweep", StreamName: "POOL_COMMANDS"},
		{Subject: "pool.params.>", CommandType: "ChangePoolParameters", ConsumerName: "core-pool-params", StreamName: "POOL_COMMANDS"},
		{Subject: "pool.admins.>", CommandType: "ModifyAdmins", ConsumerName: "core-pool-admins", StreamName: "POOL_COMMANDS"},
		{Subject: "pool.allowlist.>", CommandType: "ModifyPrivateInvestors", ConsumerName: "core-pool-allowlist", StreamName: "POOL_COMMANDS"},
		{Subject: "pool.transfer.>", CommandType: "TransferLP", ConsumerName: "core-pool-transfer", StreamName: "POOL_COMMANDS"},
		{Subject: "gov.deposit.>", CommandType: "GovDeposit", ConsumerName: "core-gov-deposit", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.withdraw.>", CommandType: "GovWithdraw", ConsumerName: "core-gov-withdraw", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.delegate.>", CommandType: "Delegate", ConsumerName: "core-gov-delegate", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.undelegate.>", CommandType: "Undelegate", ConsumerName: "core-gov-undelegate", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.treasury.delegate.>", CommandType: "DelegateTreasury", ConsumerName: "core-gov-tdelegate", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.treasury.undelegate.>", CommandType: "UndelegateTreasury", ConsumerName: "core-gov-tundelegate", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.vote.lock.>", CommandType: "VoteLock", ConsumerName: "core-gov-votelock", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.vote.unlock.>", CommandType: "VoteUnlock", ConsumerName: "core-gov-voteunlock", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.refresh.>", CommandType: "RefreshMaxLock", ConsumerName: "core-gov-refresh", StreamName: "GOV_COMMANDS"},
		{Subject: "gov.assets.>", CommandType: "SetGovAssets", ConsumerName: "core-gov-assets", StreamName: "GOV_COMMANDS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "POOL_COMMANDS",
			Subjects:  []string{"pool.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "GOV_COMMANDS",
			Subjects:  []string{"gov.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
