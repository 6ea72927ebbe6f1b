// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/sessionauth/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		pool     *pgxpool.Pool
		migrator *store.Migrator
	)

	tableExists := func(name string) bool {
		return queryTableExists(suiteCtx, pool, name)
	}

	BeforeAll(func() {
		var err error
		pool, err = store.Connect(suiteCtx, suiteConnStr, store.ConnectOptions{})
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(suiteConnStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			Expect(migrator.Close()).To(Succeed())
		}
		if pool != nil {
			pool.Close()
		}
	})

	It("starts at version zero with everything pending", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{1, 2}))
	})

	It("creates both tables on Up", func() {
		Expect(migrator.Up()).To(Succeed())

		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
		Expect(tableExists("users")).To(BeTrue())
		Expect(tableExists("user_sessions")).To(BeTrue())
	})

	It("is idempotent", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("steps back and forward", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		Expect(tableExists("user_sessions")).To(BeFalse())
		Expect(tableExists("users")).To(BeTrue())

		Expect(migrator.Steps(1)).To(Succeed())
		Expect(tableExists("user_sessions")).To(BeTrue())
	})

	It("drops everything on Down", func() {
		Expect(migrator.Down()).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
		Expect(tableExists("users")).To(BeFalse())
	})

	It("names what is pending after a partial rollback", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Steps(-1)).To(Succeed())

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{2}))
		Expect(store.MigrationName(pending[0])).To(Equal("000002_create_user_sessions"))

		Expect(migrator.Down()).To(Succeed())
	})

	It("forces a version without running migrations", func() {
		Expect(migrator.Force(1)).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
	})
})

func queryTableExists(ctx context.Context, pool *pgxpool.Pool, name string) bool {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		name).Scan(&exists)
	Expect(err).NotTo(HaveOccurred())
	return exists
}
