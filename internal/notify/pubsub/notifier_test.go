package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/factcheck-aggregator/internal/classify"
)

func TestRunCompletedPublishesReport(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close() //nolint:errcheck

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	topic, err := client.CreateTopic(ctx, "classification-runs")
	require.NoError(t, err)

	notifier := New(topic)
	defer notifier.Stop()

	report := classify.Report{RunID: "run-42", Sampled: 4, Submitted: 4, Succeeded: 3, Failed: 1, Total: 4}
	require.NoError(t, notifier.RunCompleted(ctx, report))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventRunCompleted, msgs[0].Attributes["event"])
	assert.Equal(t, "run-42", msgs[0].Attributes["run_id"])

	var got classify.Report
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, report.Succeeded, got.Succeeded)
	assert.Equal(t, report.Failed, got.Failed)
}

func TestRunCompletedWithoutTopic(t *testing.T) {
	t.Parallel()

	assert.Error(t, New(nil).RunCompleted(context.Background(), classify.Report{}))
}
