// guardsim runs the takeover scenario with two simulated devices in one
// process: device A signs in and is guarded; device B signs in to the same
// account and overwrites the session; A observes the foreign token, waits out
// the grace window, records the kick, and is forced out. B keeps running.
//
// Durations come from the environment; for a quick demonstration use e.g.
// HEARTBEAT_INTERVAL=1s GRACE_DELAY=3s IDLE_TIMEOUT=1m.
package main

import (
	"context"
	"log"
	"time"

	"trading-session-guard/internal/authprovider"
	"trading-session-guard/internal/config"
	"trading-session-guard/internal/db"
	"trading-session-guard/internal/docstore"
	"trading-session-guard/internal/guard"
	"trading-session-guard/internal/session"
	"trading-session-guard/internal/telemetry"
	guardotel "trading-session-guard/internal/telemetry/otel"
	"trading-session-guard/internal/telemetry/producer"
)

const (
	demoUserID   = "demo-user"
	demoEmail    = "demo@example.com"
	demoPassword = "correct horse battery staple"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	providers, err := guardotel.NewProviders(ctx, cfg.OTLPEndpoint, "guardsim", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		time.Sleep(telemetry.ShutdownDrainDuration)
		_ = providers.Shutdown(shutdownCtx)
	}()

	var events telemetry.EventEmitter = guardotel.NewEventEmitter(providers.LoggerProvider)
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := producer.NewKafkaProducer(brokers, cfg.EvictionKafkaTopic)
		if err != nil {
			log.Fatalf("kafka: %v", err)
		}
		if kp != nil {
			defer kp.Close()
			events = multiEmitter{events, kp}
		}
	}

	sessions := session.NewStore(store)
	opts := guard.Options{
		HeartbeatInterval: cfg.Heartbeat(),
		GraceDelay:        cfg.Grace(),
		IdleTimeout:       cfg.Idle(),
	}

	// Each simulated device gets its own auth provider and guard, the way two
	// real clients each hold their own state against the shared store.
	newDevice := func(name string) (*authprovider.LocalProvider, *guard.Guard) {
		auth := authprovider.NewLocalProvider(cfg.BcryptCost)
		if err := auth.Register(demoUserID, demoEmail, demoPassword); err != nil {
			log.Fatalf("%s: register: %v", name, err)
		}
		g := guard.New(sessions, auth, events, opts, func() {
			log.Printf("%s: client reset, back at the login screen", name)
		})
		g.OnForcedLogout(func(r guard.Reason) {
			log.Printf("%s: %s", name, r.Message())
		})
		return auth, g
	}

	authA, deviceA := newDevice("device-a")
	authB, deviceB := newDevice("device-b")

	idA, err := authA.SignIn(demoEmail, demoPassword)
	if err != nil {
		log.Fatalf("device-a: sign in: %v", err)
	}
	if err := deviceA.Start(ctx, *idA); err != nil {
		log.Fatalf("device-a: guard: %v", err)
	}
	log.Printf("device-a: signed in, session token %s", deviceA.Token())

	// Let a few heartbeats land before the takeover.
	time.Sleep(2*opts.HeartbeatInterval + opts.HeartbeatInterval/2)

	idB, err := authB.SignIn(demoEmail, demoPassword)
	if err != nil {
		log.Fatalf("device-b: sign in: %v", err)
	}
	if err := deviceB.Start(ctx, *idB); err != nil {
		log.Fatalf("device-b: guard: %v", err)
	}
	log.Printf("device-b: signed in, session token %s (takeover written)", deviceB.Token())

	// A is evicted once the grace window elapses after its monitor sees B's token.
	time.Sleep(opts.GraceDelay + 2*time.Second)

	lockout, err := sessions.GetLockout(ctx, demoUserID)
	if err != nil {
		log.Fatalf("lockout read: %v", err)
	}
	if lockout != nil {
		log.Printf("lockout record: kicks=%d locked=%v", lockout.KickCount, lockout.IsLocked)
	}
	rec, err := sessions.Get(ctx, demoUserID)
	if err == nil && rec != nil {
		log.Printf("surviving session token: %s (device-b: %s)", rec.SessionToken, deviceB.Token())
	}

	deviceB.Stop(ctx)
	log.Println("guardsim: done")
}

func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case "redis":
		client, err := docstore.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store := docstore.NewRedisStore(client)
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		pool, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := docstore.NewPostgresStore(pool, cfg.DatabaseURL)
		return store, func() {
			_ = store.Close()
			_ = pool.Close()
		}, nil
	default:
		store := docstore.NewMemoryStore()
		return store, func() { _ = store.Close() }, nil
	}
}

// multiEmitter fans one eviction event out to several emitters.
type multiEmitter []telemetry.EventEmitter

func (m multiEmitter) Emit(ctx context.Context, event *telemetry.EvictionEvent) error {
	var lastErr error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
