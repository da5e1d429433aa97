// event-seeder publishes synthetic serilog and robot-interaction events to
// the partitioned stream for load and smoke testing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var (
	brokerURL  = flag.String("broker-url", "nats://localhost:4222", "Broker URL")
	stream     = flag.String("stream", "EVENTS", "Stream name")
	subject    = flag.String("subject-prefix", "events", "Subject prefix; events go to <prefix>.<partition>")
	partitions = flag.Int("partitions", 4, "Number of partitions to spread events over")
	count      = flag.Int("count", 1000, "Number of events to generate")
	interval   = flag.Duration("interval", 10*time.Millisecond, "Interval between events")
	eventTypes = flag.String("types", "serilog,interaction", "Comma-separated event types to generate")
)

func main() {
	flag.Parse()
	gofakeit.Seed(time.Now().UnixNano())

	log.Printf("Starting event seeder:")
	log.Printf("  Broker: %s", *brokerURL)
	log.Printf("  Stream: %s", *stream)
	log.Printf("  Partitions: %d", *partitions)
	log.Printf("  Event count: %d", *count)

	nc, err := nats.Connect(*brokerURL, nats.Name("event-seeder"))
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}
	defer nc.Drain()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatalf("create stream context: %v", err)
	}

	ctx := context.Background()
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     *stream,
		Subjects: []string{*subject + ".*"},
	}); err != nil {
		log.Fatalf("ensure stream: %v", err)
	}

	types := strings.Split(*eventTypes, ",")
	sent := 0
	for i := 0; i < *count; i++ {
		eventType := types[rand.Intn(len(types))]
		body, headers := generateEvent(eventType)

		partition := rand.Intn(*partitions)
		msg := &nats.Msg{
			Subject: fmt.Sprintf("%s.%d", *subject, partition),
			Header:  headers,
			Data:    body,
		}
		if _, err := js.PublishMsg(ctx, msg); err != nil {
			log.Printf("publish failed: %v", err)
			continue
		}
		sent++
		if sent%100 == 0 {
			log.Printf("Progress: %d/%d events published", sent, *count)
		}
		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}
	log.Printf("Done: %d/%d events published", sent, *count)
}

func generateEvent(eventType string) ([]byte, nats.Header) {
	headers := nats.Header{}
	headers.Set("MessageId", uuid.NewString())
	headers.Set("Timestamp", time.Now().UTC().Format(time.RFC3339Nano))

	switch eventType {
	case "interaction":
		headers.Set("Type", "RoboCustosInteraction")
		return generateInteraction(), headers
	default:
		headers.Set("Type", "SerilogEvent")
		return generateSerilog(), headers
	}
}

func generateSerilog() []byte {
	levels := []string{"Verbose", "Debug", "Information", "Warning", "Error"}
	body := map[string]any{
		"@timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":           levels[rand.Intn(len(levels))],
		"message":         gofakeit.HackerPhrase(),
		"messageTemplate": "{phrase}",
		"fields": map[string]any{
			"MachineName":   gofakeit.AppName(),
			"MachineRole":   gofakeit.JobTitle(),
			"CorrelationId": uuid.NewString(),
			"UserName":      gofakeit.Username(),
			"RequestPath":   "/" + gofakeit.Word(),
		},
	}
	data, _ := json.Marshal(body)
	return data
}

func generateInteraction() []byte {
	grades := []string{"Happy", "Happy", "Satisfied", "ReallyAnnoyed", "Unacceptable"}
	grade := grades[rand.Intn(len(grades))]
	body := map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"MachineName": gofakeit.AppName(),
		"RobotName":   gofakeit.PetName(),
		"Information": map[string]any{
			"Product": map[string]any{"Environment": gofakeit.RandomString([]string{"prod-eu", "prod-us", "staging"})},
		},
		"Tester": map[string]any{"InstanceId": uuid.NewString()},
		"Interaction": map[string]any{
			"HappinessGrade":          grade,
			"HappinessExplanation":    gofakeit.Sentence(6),
			"TimeTaken":               float64(rand.Intn(5000)),
			"TimeInteractionRecorded": time.Now().UTC().Format(time.RFC3339Nano),
			"OperationID":             uuid.NewString(),
			"Components": []map[string]any{
				{
					"HappinessGrade":          grade,
					"TimeInteractionRecorded": time.Now().UTC().Format(time.RFC3339Nano),
					"OperationID":             uuid.NewString(),
				},
			},
		},
	}
	data, _ := json.Marshal(body)
	return data
}
