// Command entropysync-client is a sample binary dialing an
// entropysync-server instance, completing the handshake, and driving
// a periodic property-update workload through the batcher. It exists
// to exercise the client-side session path end to end.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adred-codev/entropysync/internal/logging"
	"github.com/adred-codev/entropysync/pkg/nack"
	"github.com/adred-codev/entropysync/pkg/netcode"
	"github.com/adred-codev/entropysync/pkg/property"
	"github.com/adred-codev/entropysync/pkg/schema"
	"github.com/adred-codev/entropysync/pkg/session"
	"github.com/adred-codev/entropysync/pkg/transport"
	"github.com/adred-codev/entropysync/pkg/wire"
)

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:7777/ws", "server address to dial")
	clientType := flag.String("client-type", "sample-client", "client type announced in the handshake")
	clientID := flag.String("client-id", "sample-client-1", "client id announced in the handshake")
	updateHz := flag.Int("update-hz", 20, "property update rate in updates per second")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "console"})

	dial := transport.NewRemoteClient(*addr)
	if dial.Failed() {
		logger.Fatal().Str("code", dial.Code.String()).Msg("failed to dial server")
	}
	conn := dial.Value

	sess := session.New(conn, session.Config{
		PropertyRegistry: property.NewRegistry(),
		SchemaRegistry:   schema.NewRegistry(),
		NackPolicy:       nack.NewPolicy(),
		NackTracker:      nack.NewTracker(nack.TrackerConfig{}),
		BatchIntervalMs:  50,
	})
	sess.SetCallbacks(session.Callbacks{
		OnError: func(code netcode.Code, message string) {
			logger.Warn().Str("code", code.String()).Str("message", message).Msg("session error")
		},
		OnSchemaAdvertisement: func(msg wire.SchemaAdvertisementMsg) {
			logger.Info().Str("component", msg.ComponentName).Uint32("version", msg.SchemaVersion).Msg("schema advertised")
		},
	})
	sess.Attach()

	if res := sess.Connect(); res.Failed() {
		logger.Fatal().Str("code", res.Code.String()).Msg("connect failed")
	}
	if res := sess.PerformHandshake(*clientType, *clientID); res.Failed() {
		logger.Fatal().Str("code", res.Code.String()).Msg("handshake failed")
	}
	sess.SetBatchingEnabled(true)

	logger.Info().Str("session_id", sess.SessionID()).Msg("handshake sent")

	positionHash := property.FromUint64Pair(1, 1)
	ticker := time.NewTicker(time.Second / time.Duration(*updateHz))
	defer ticker.Stop()

	var tick float32
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			tick++
			sess.UpdateProperty(positionHash, property.Vec3Value(property.Vec3{X: tick, Y: 0, Z: 0}))
		case <-sigCh:
			logger.Info().Msg("shutting down")
			sess.FlushPropertyUpdates()
			sess.Disconnect()
			return
		}
	}
}
