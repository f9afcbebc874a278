package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitEvents_NoneBroker(t *testing.T) {
	ev, err := initEvents(DefaultConfig(), log.WithField("test", t.Name()))
	require.NoError(t, err)
	require.Nil(t, ev.publisher)
	require.Nil(t, ev.dlq)
	require.Nil(t, ev.producer)
	require.NoError(t, ev.close())
}

func TestInitEvents_UnsupportedBroker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventsBroker = "nats"

	_, err := initEvents(cfg, log.WithField("test", t.Name()))
	require.Error(t, err)
}

func TestInitEvents_KafkaUnavailable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}

	cfg := DefaultConfig()
	cfg.EventsBroker = EventsBrokerKafka
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}

	_, err := initEvents(cfg, log.WithField("test", t.Name()))
	require.Error(t, err)
}

func TestInitEvents_KafkaOptionalForNoneBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}

	cfg := DefaultConfig()
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}

	ev, err := initEvents(cfg, log.WithField("test", t.Name()))
	require.NoError(t, err)
	require.Nil(t, ev.producer)
	require.Nil(t, ev.publisher)
}

func TestEventsClose_ReverseOrderAndJoinedErrors(t *testing.T) {
	var order []string
	ev := &events{closers: []func() error{
		func() error { order = append(order, "first"); return nil },
		func() error { order = append(order, "second"); return errTestClose },
	}}

	err := ev.close()
	require.ErrorIs(t, err, errTestClose)
	require.Equal(t, []string{"second", "first"}, order)
	require.NoError(t, ev.close())
}
