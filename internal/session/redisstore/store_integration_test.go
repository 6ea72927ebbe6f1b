// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package redisstore_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/sessionauth/internal/session"
	"github.com/holomush/sessionauth/internal/session/redisstore"
)

// setupRedisContainer starts a Redis container and returns a connected client.
func setupRedisContainer() (*redis.Client, func(), error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, nil, err
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	client, err := redisstore.Dial(ctx, "redis://"+endpoint+"/0", 5)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	}
	return client, cleanup, nil
}

var _ = Describe("Store", func() {
	var (
		client  *redis.Client
		cleanup func()
		store   *redisstore.Store
		ctx     context.Context
		t0      time.Time
	)

	BeforeEach(func() {
		var err error
		client, cleanup, err = setupRedisContainer()
		Expect(err).NotTo(HaveOccurred())
		store = redisstore.New(client, redisstore.WithPrefix("test:"))
		ctx = context.Background()
		t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("Append and Load", func() {
		It("returns records oldest first", func() {
			Expect(store.Append(ctx, session.Record{SessionID: "b", UserID: "u2", CreatedAt: t0.Add(time.Minute)})).To(Succeed())
			Expect(store.Append(ctx, session.Record{SessionID: "a", UserID: "u1", CreatedAt: t0})).To(Succeed())

			recs, err := store.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
			Expect(recs[0].SessionID).To(Equal("a"))
			Expect(recs[1].UserID).To(Equal("u2"))
			Expect(recs[0].CreatedAt.Equal(t0)).To(BeTrue())
		})

		It("skips index entries whose record is gone", func() {
			Expect(store.Append(ctx, session.Record{SessionID: "a", UserID: "u1", CreatedAt: t0})).To(Succeed())
			Expect(client.Del(ctx, "test:session:a").Err()).To(Succeed())

			recs, err := store.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})
	})

	Describe("Find", func() {
		It("returns ErrNotFound for unknown ids", func() {
			_, err := store.Find(ctx, "missing")
			Expect(err).To(MatchError(session.ErrNotFound))
		})

		It("returns a stored record", func() {
			Expect(store.Append(ctx, session.Record{SessionID: "a", UserID: "u1", CreatedAt: t0})).To(Succeed())

			rec, err := store.Find(ctx, "a")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.UserID).To(Equal("u1"))
		})
	})

	Describe("Replace", func() {
		It("rewrites the full set", func() {
			Expect(store.Append(ctx, session.Record{SessionID: "a", UserID: "u1", CreatedAt: t0})).To(Succeed())
			Expect(store.Append(ctx, session.Record{SessionID: "b", UserID: "u2", CreatedAt: t0})).To(Succeed())

			Expect(store.Replace(ctx, []session.Record{{SessionID: "b", UserID: "u2", CreatedAt: t0}})).To(Succeed())

			recs, err := store.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].SessionID).To(Equal("b"))

			_, err = store.Find(ctx, "a")
			Expect(err).To(MatchError(session.ErrNotFound))
		})
	})

	Describe("Replace under a concurrent writer", func() {
		It("retries so no record is left outside the index", func() {
			Expect(store.Append(ctx, session.Record{SessionID: "a", UserID: "u1", CreatedAt: t0})).To(Succeed())

			other := redisstore.New(client, redisstore.WithPrefix("test:"))
			calls := 0
			redisstore.SetBeforeReplaceExec(store, func() {
				calls++
				if calls == 1 {
					Expect(other.Append(ctx, session.Record{SessionID: "c", UserID: "u3", CreatedAt: t0})).To(Succeed())
				}
			})

			Expect(store.Replace(ctx, []session.Record{{SessionID: "b", UserID: "u2", CreatedAt: t0}})).To(Succeed())
			Expect(calls).To(Equal(2))

			recs, err := store.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].SessionID).To(Equal("b"))

			keys, err := client.Keys(ctx, "test:session:*").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(ConsistOf("test:session:b"))
		})
	})

	Describe("PurgeCreatedBefore", func() {
		It("removes only records strictly older than the cutoff", func() {
			Expect(store.Append(ctx, session.Record{SessionID: "old", UserID: "u", CreatedAt: t0})).To(Succeed())
			Expect(store.Append(ctx, session.Record{SessionID: "edge", UserID: "u", CreatedAt: t0.Add(time.Hour)})).To(Succeed())

			n, err := store.PurgeCreatedBefore(ctx, t0.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			recs, err := store.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].SessionID).To(Equal("edge"))
		})
	})

	Describe("WithTTL", func() {
		It("lets Redis expire record keys", func() {
			ttlStore := redisstore.New(client, redisstore.WithPrefix("ttl:"), redisstore.WithTTL(time.Minute))
			Expect(ttlStore.Append(ctx, session.Record{SessionID: "a", UserID: "u", CreatedAt: t0})).To(Succeed())

			ttl, err := client.TTL(ctx, "ttl:session:a").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(ttl).To(BeNumerically(">", 0))
		})
	})

	Describe("as a durable registry", func() {
		It("resolves sessions across registry instances", func() {
			token, err := session.NewDurableRegistry(store).Create(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())

			userID, err := session.NewDurableRegistry(redisstore.New(client, redisstore.WithPrefix("test:"))).Resolve(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(userID).To(Equal("user-1"))
		})
	})
})
