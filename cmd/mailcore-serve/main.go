// Command mailcore-serve runs the CID/attachment HTTP surface
// (internal/webcid) against a mailcore store, the wire-level contract
// an out-of-scope mail UI consumes for inline images and downloads.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inboxcore/mailcore/internal/logging"
	"github.com/inboxcore/mailcore/internal/store"
	"github.com/inboxcore/mailcore/internal/webcid"
)

func main() {
	var (
		addr   = flag.String("addr", ":8080", "listen address")
		dbPath = flag.String("db", "mailcore.db", "path to the sqlite database")
		blobs  = flag.String("blobs", "blobs", "path to the blob data directory (ignored if S3 env vars are set)")
	)
	flag.Parse()

	log := logging.WithComponent("mailcore-serve")

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	ctx := context.Background()
	blobStore, err := store.NewBlobStore(ctx, *blobs)
	if err != nil {
		log.Fatal().Err(err).Msg("open blob store")
	}

	st := store.New(db, blobStore)
	router := webcid.NewRouter(webcid.Config{Store: st})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}
