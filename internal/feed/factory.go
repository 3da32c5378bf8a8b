package feed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"safeboard/internal/board"
	"safeboard/internal/config"
	"safeboard/internal/database"
)

// Feed is a ChangeFeed together with the background loop that feeds it.
// Run returns immediately for variants without a transport.
type Feed interface {
	board.ChangeFeed
	Run(ctx context.Context) error
}

type poolProvider interface {
	Pool() *pgxpool.Pool
}

// NewFeedFromConfig creates a change feed based on the feed config type.
func NewFeedFromConfig(cfg config.FeedConfig, store board.Store, sessionID string, logger board.Logger) (Feed, error) {
	switch cfg.Type {
	case "", "hub":
		return localHub{NewHub()}, nil
	case "poll":
		return NewPoller(store, cfg.PollInterval, logger), nil
	case "postgres":
		pp, ok := store.(poolProvider)
		if !ok {
			return nil, fmt.Errorf("postgres feed requires the postgres database")
		}
		return NewPGListener(pp.Pool(), database.ChangeChannel, logger), nil
	case "kafka":
		groupID := cfg.KafkaGroupID
		if groupID == "" {
			groupID = "safeboard-" + sessionID
		}
		f, err := NewKafkaFeed(KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: groupID}, logger)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "mqtt":
		clientID := cfg.MQTTClientID
		if clientID == "" {
			clientID = "safeboard-" + sessionID
		}
		f, err := NewMQTTFeed(MQTTConfig{Broker: cfg.MQTTBroker, Topic: cfg.MQTTTopic, ClientID: clientID}, logger)
		if err != nil {
			return nil, err
		}
		return mqttFeed{f}, nil
	default:
		return nil, fmt.Errorf("unknown feed type: %s", cfg.Type)
	}
}

type localHub struct{ *Hub }

func (localHub) Run(ctx context.Context) error { return nil }

type mqttFeed struct{ *MQTTFeed }

// Run keeps the broker connection until ctx is done.
func (f mqttFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return f.Close()
}
