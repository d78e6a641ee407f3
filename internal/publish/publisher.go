// Package publish pushes vault state updates to NATS JetStream so
// downstream consumers (routers, dashboards) can track vault valuations
// without polling the HTTP API.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// StreamName holds refreshed vault snapshots.
	StreamName = "VOLTR_VAULT_UPDATES"

	subjectPrefix = "voltr.vault.updates"
)

// VaultUpdate is the published snapshot of one vault after a refresh.
type VaultUpdate struct {
	VaultKey           string    `json:"vault_key"`
	AssetMint          string    `json:"asset_mint"`
	LpMint             string    `json:"lp_mint"`
	TotalAssetValue    uint64    `json:"total_asset_value"`
	UnlockedAssetValue uint64    `json:"unlocked_asset_value"`
	LpSupply           uint64    `json:"lp_supply"`
	IdleBalance        uint64    `json:"idle_balance"`
	MaxCap             uint64    `json:"max_cap"`
	LastUpdatedTs      uint64    `json:"last_updated_ts"`
	RefreshedAt        time.Time `json:"refreshed_at"`
}

// Publisher drains the update channel into JetStream. Publish failures are
// logged and dropped; the next refresh supersedes a lost update anyway.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan VaultUpdate
	log       zerolog.Logger

	onPublish func()
	onDrop    func()
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan VaultUpdate, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
		onPublish: func() {},
		onDrop:    func() {},
	}
}

// OnPublish registers a hook called after each successful publish.
func (p *Publisher) OnPublish(fn func()) { p.onPublish = fn }

// OnDrop registers a hook called when an update is lost.
func (p *Publisher) OnDrop(fn func()) { p.onDrop = fn }

// Run starts the publisher loop.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case upd, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, upd); err != nil {
				p.log.Warn().Err(err).Str("vault", upd.VaultKey).Msg("vault update publish failed")
				p.onDrop()
				continue
			}
			p.onPublish()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, upd VaultUpdate) error {
	data, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", subjectPrefix, upd.VaultKey)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureUpdateStream creates the vault updates stream if it doesn't exist.
func EnsureUpdateStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create update stream: %w", err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
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
