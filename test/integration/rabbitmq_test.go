package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/edwaraco/carpetaCiudadana/pkg/api"
	amqpbroker "github.com/edwaraco/carpetaCiudadana/pkg/broker/amqp"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupRabbitMQ starts a RabbitMQ container and returns its AMQP URL.
// Tests are skipped if no container runtime is available.
func setupRabbitMQ(t *testing.T) string {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping RabbitMQ integration tests")
	}
	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor: wait.ForLog("Server startup complete").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping: could not start RabbitMQ container (is podman running?): %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5672/tcp")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestRabbitMQRoundTrip(t *testing.T) {
	url := setupRabbitMQ(t)

	brk, err := amqpbroker.Dial(amqpbroker.Config{
		URL:          url,
		RequestQueue: "test.requests",
		OutcomeQueue: "test.outcomes",
		Prefetch:     5,
	})
	if err != nil {
		t.Fatalf("dialing broker: %v", err)
	}
	defer brk.Close()

	// Consumer: convert every request into a success outcome.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go brk.Start(ctx, func(ctx context.Context, event api.RequestEvent) error {
		return brk.PublishOutcome(ctx, api.OutcomeEvent{
			DocumentID: event.DocumentID,
			FolderID:   event.FolderID,
			StatusCode: api.StatusSuccess,
			Message:    "Document authenticated",
			RecordedAt: time.Now().UTC().Format(time.RFC3339),
		})
	})

	event := api.RequestEvent{
		DocumentID:    "doc-rt",
		DocumentTitle: "Round Trip",
		FolderID:      "folder-rt",
		CitizenID:     42,
		RawToken:      "tok",
	}
	if err := brk.PublishRequest(context.Background(), event); err != nil {
		t.Fatalf("publishing request: %v", err)
	}

	outcome := consumeOneOutcome(t, url, "test.outcomes")
	if outcome.DocumentID != "doc-rt" || outcome.FolderID != "folder-rt" {
		t.Errorf("outcome identity = %s/%s", outcome.DocumentID, outcome.FolderID)
	}
	if outcome.StatusCode != api.StatusSuccess {
		t.Errorf("status = %s, want 200", outcome.StatusCode)
	}
}

func TestRabbitMQPersistentDelivery(t *testing.T) {
	url := setupRabbitMQ(t)

	brk, err := amqpbroker.Dial(amqpbroker.Config{
		URL:          url,
		RequestQueue: "test.persist.requests",
		OutcomeQueue: "test.persist.outcomes",
	})
	if err != nil {
		t.Fatalf("dialing broker: %v", err)
	}
	defer brk.Close()

	if err := brk.PublishRequest(context.Background(), api.RequestEvent{
		DocumentID:    "doc-persist",
		DocumentTitle: "Durable",
		RawToken:      "tok",
	}); err != nil {
		t.Fatalf("publishing request: %v", err)
	}

	// Inspect the raw delivery to verify persistence and content type.
	conn, err := amqplib.Dial(url)
	if err != nil {
		t.Fatalf("dialing rabbitmq: %v", err)
	}
	defer conn.Close()
	channel, err := conn.Channel()
	if err != nil {
		t.Fatalf("opening channel: %v", err)
	}
	defer channel.Close()

	delivery := awaitDelivery(t, channel, "test.persist.requests")
	if delivery.DeliveryMode != amqplib.Persistent {
		t.Errorf("delivery mode = %d, want persistent", delivery.DeliveryMode)
	}
	if delivery.ContentType != "application/json" {
		t.Errorf("content type = %q", delivery.ContentType)
	}
	if delivery.MessageId == "" {
		t.Error("message id is empty")
	}

	var event api.RequestEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		t.Fatalf("decoding delivery body: %v", err)
	}
	if event.DocumentID != "doc-persist" {
		t.Errorf("DocumentID = %q", event.DocumentID)
	}
}

// consumeOneOutcome reads a single outcome event from the given queue.
func consumeOneOutcome(t *testing.T, url, queue string) api.OutcomeEvent {
	t.Helper()

	conn, err := amqplib.Dial(url)
	if err != nil {
		t.Fatalf("dialing rabbitmq: %v", err)
	}
	defer conn.Close()
	channel, err := conn.Channel()
	if err != nil {
		t.Fatalf("opening channel: %v", err)
	}
	defer channel.Close()

	delivery := awaitDelivery(t, channel, queue)

	var outcome api.OutcomeEvent
	if err := json.Unmarshal(delivery.Body, &outcome); err != nil {
		t.Fatalf("decoding outcome body: %v", err)
	}
	return outcome
}

// awaitDelivery polls the queue until a message arrives or the wait
// deadline passes.
func awaitDelivery(t *testing.T, channel *amqplib.Channel, queue string) amqplib.Delivery {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		delivery, ok, err := channel.Get(queue, true)
		if err != nil {
			t.Fatalf("reading from queue %q: %v", queue, err)
		}
		if ok {
			return delivery
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("no message on queue %q within deadline", queue)
	return amqplib.Delivery{}
}
