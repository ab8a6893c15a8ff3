//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/auth"
	"github.com/geb16/prodtracker/internal/blocker"
	"github.com/geb16/prodtracker/internal/classify"
	"github.com/geb16/prodtracker/internal/domain"
	"github.com/geb16/prodtracker/internal/guard"
	"github.com/geb16/prodtracker/internal/infra"
	"github.com/geb16/prodtracker/internal/pairing"
	"github.com/geb16/prodtracker/internal/usecase"
)

var _ = Describe("Heartbeat Pipeline", func() {
	var (
		tmpDir    string
		hostsPath string
		store     *infra.EncryptedStore
		registry  *pairing.Registry
		block     *blocker.Blocker
		pipeline  *usecase.Pipeline
		secret    string
		now       time.Time
		ctx       context.Context
	)

	signedHeartbeat := func(ts time.Time, app string) domain.Heartbeat {
		hb := domain.Heartbeat{
			DeviceID:      "phone-001",
			Timestamp:     ts.Format(time.RFC3339),
			ScreenOn:      true,
			ForegroundApp: app,
		}
		sig, err := auth.SignHeartbeat(hb, secret)
		Expect(err).NotTo(HaveOccurred())
		hb.Signature = sig
		return hb
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		now = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }

		tmpDir, err = os.MkdirTemp("", "prodtracker-integration-*")
		Expect(err).NotTo(HaveOccurred())

		hostsPath = filepath.Join(tmpDir, "hosts")
		err = os.WriteFile(hostsPath, []byte("127.0.0.1\tlocalhost\n"), 0644)
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()

		key, err := infra.NewFileKeyProvider(tmpDir).EnsureKey()
		Expect(err).NotTo(HaveOccurred())
		store, err = infra.NewEncryptedStore(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())

		registry = pairing.NewRegistry(store, auth.NewTokenVerifier("pairing-secret"), logger)

		g := guard.New(infra.NewMemoryGuardState(),
			guard.Config{MaxSkew: 5 * time.Minute, Capacity: 50, RefillPerSec: 10}, logger).
			WithClock(clock)
		window := infra.NewMemorySampleWindow(time.Hour, 15*time.Second).WithClock(clock)

		block = blocker.New(
			infra.NewHostsFile(hostsPath),
			infra.NewHostsBackupStore(filepath.Join(tmpDir, "backups")),
			store,
			[]string{"youtube.com", "tiktok.com"},
			logger,
		).WithClock(clock)

		pipeline = usecase.NewPipeline(registry, g, window,
			classify.New(classify.DefaultRules()), block,
			usecase.DefaultPipelineConfig(), logger).WithClock(clock)

		secret, err = registry.BeginPairing(ctx, "phone-001", "Phone")
		Expect(err).NotTo(HaveOccurred())
		Expect(registry.ConfirmPairingAdmin(ctx, "phone-001")).To(Succeed())
	})

	AfterEach(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("a distracted streak", func() {
		It("blocks sites, audits the transition, and restores on unblock", func() {
			for i := 0; i < 3; i++ {
				ts := now.Add(time.Duration(i-3) * 15 * time.Second)
				_, err := pipeline.Ingest(ctx, signedHeartbeat(ts, "youtube"))
				Expect(err).NotTo(HaveOccurred())
			}

			state := block.State()
			Expect(state.Phase).To(Equal(domain.BlockActive))
			Expect(state.ExpiresAt).NotTo(BeNil())

			content, err := os.ReadFile(hostsPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring("127.0.0.1\tyoutube.com"))
			Expect(string(content)).To(ContainSubstring("127.0.0.1\ttiktok.com"))

			records, err := store.Recent(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Action).To(Equal(domain.ActionActivate))
			Expect(records[0].TriggeredBy).To(Equal("phone-001"))

			_, err = block.Deactivate(ctx, "manual", "manual")
			Expect(err).NotTo(HaveOccurred())

			content, err = os.ReadFile(hostsPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal("127.0.0.1\tlocalhost\n"))

			records, err = store.Recent(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[0].Action).To(Equal(domain.ActionDeactivate))
		})
	})

	Describe("device lifecycle across store reopen", func() {
		It("keeps pairing state and history in the encrypted store", func() {
			_, err := pipeline.Ingest(ctx, signedHeartbeat(now.Add(-time.Minute), "code"))
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Close()).To(Succeed())

			key, err := infra.NewFileKeyProvider(tmpDir).EnsureKey()
			Expect(err).NotTo(HaveOccurred())
			store, err = infra.NewEncryptedStore(tmpDir, key)
			Expect(err).NotTo(HaveOccurred())

			d, err := store.Get(ctx, "phone-001")
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(domain.StatePaired))
			Expect(d.Secret).To(Equal(secret))
			Expect(d.LastSeen.IsZero()).To(BeFalse())
		})
	})

	Describe("a revoked device", func() {
		It("is rejected without touching the hosts file", func() {
			Expect(registry.Revoke(ctx, "phone-001")).To(Succeed())

			_, err := pipeline.Ingest(ctx, signedHeartbeat(now, "youtube"))
			Expect(err).To(MatchError(domain.ErrUnknownDevice))

			content, err := os.ReadFile(hostsPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).NotTo(ContainSubstring("youtube.com"))
		})
	})
})
