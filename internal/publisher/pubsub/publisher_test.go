package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type event struct {
	ID   int64  `json:"publication_id"`
	City string `json:"city_code"`
}

func (e event) Attributes() map[string]string {
	return map[string]string{"city_code": e.City}
}

func TestPublisherPublishesJSONWithAttributes(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/project-id/topics/listings"})
	require.NoError(t, err)

	pub, err := Open(ctx, "project-id", "listings", option.WithGRPCConn(conn))
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "ignored", event{ID: 42, City: "austin"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"publication_id":42,"city_code":"austin"}`, string(msgs[0].Data))
	assert.Equal(t, "austin", msgs[0].Attributes["city_code"])
}

func TestPublisherRequiresConfiguration(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", 1)
	require.Error(t, err)
	require.NoError(t, New(nil).Close())

	_, err = Open(context.Background(), "", "listings")
	require.Error(t, err)
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	assert.Equal(t, "00-abc", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
