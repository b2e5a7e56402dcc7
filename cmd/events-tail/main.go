package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"

	"github.com/coneflip-overlay/server/internal/domain"
)

// events-tail follows the coneflip audit topic and prints each game event,
// for eyeballing what the overlay is doing in production.
func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "coneflip-events", "Kafka topic")
	group := flag.String("group", "coneflip-events-tail", "Consumer group ID")
	fromStart := flag.Bool("from-start", false, "Read the topic from the beginning")
	flag.Parse()

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_0_0_0
	cfg.Consumer.Return.Errors = true
	if *fromStart {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	client, err := sarama.NewConsumerGroup(strings.Split(*brokers, ","), *group, cfg)
	if err != nil {
		log.Fatalf("failed to create consumer group: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	go func() {
		for err := range client.Errors() {
			log.Printf("consumer error: %v", err)
		}
	}()

	fmt.Printf("tailing %s on %s (group %s)\n", *topic, *brokers, *group)

	consumer := &tailConsumer{}
	for {
		if err := client.Consume(ctx, []string{*topic}, consumer); err != nil {
			log.Printf("consume error: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

type tailConsumer struct{}

func (tailConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (tailConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (tailConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var event domain.GameEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("skipping malformed event at offset %d: %v", msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}

		line := fmt.Sprintf("%s  %-5s  %s", event.Timestamp.Format("15:04:05"), event.Type, event.Player)
		if event.Target != "" {
			line += " vs " + event.Target
		}
		if event.Skin != "" {
			line += " [" + event.Skin + "]"
		}
		fmt.Println(line)
		session.MarkMessage(msg, "")
	}
	return nil
}
