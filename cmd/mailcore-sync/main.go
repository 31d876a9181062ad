// Command mailcore-sync connects to one configured account, lists a
// folder's messages, and renders each through the orchestrator —
// a small command-line harness exercising sync_folder and
// render_message end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/inboxcore/mailcore/internal/config"
	"github.com/inboxcore/mailcore/internal/imap"
	"github.com/inboxcore/mailcore/internal/logging"
	"github.com/inboxcore/mailcore/internal/orchestrator"
	"github.com/inboxcore/mailcore/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "mailcore.yaml", "path to the YAML config document")
		account    = flag.String("account", "", "account id to sync (required)")
		folder     = flag.String("folder", "INBOX", "folder to sync")
		dbPath     = flag.String("db", "mailcore.db", "path to the sqlite database")
		blobs      = flag.String("blobs", "blobs", "path to the blob data directory")
	)
	flag.Parse()

	log := logging.WithComponent("mailcore-sync")

	if *account == "" {
		fmt.Fprintln(os.Stderr, "missing required -account flag")
		os.Exit(2)
	}

	doc, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	acct, ok := doc.Accounts[*account]
	if !ok {
		log.Fatal().Str("account", *account).Msg("no such account in config")
	}

	ctx := context.Background()

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	blobStore, err := store.NewBlobStore(ctx, *blobs)
	if err != nil {
		log.Fatal().Err(err).Msg("open blob store")
	}
	st := store.New(db, blobStore)

	pool := imap.NewPool(func(accountID string) (config.Account, error) {
		a, ok := doc.Accounts[accountID]
		if !ok {
			return config.Account{}, fmt.Errorf("unknown account %q", accountID)
		}
		return a, nil
	})

	orch := orchestrator.New(pool, st, func(accountID string) (config.Account, error) {
		a, ok := doc.Accounts[accountID]
		if !ok {
			return config.Account{}, fmt.Errorf("unknown account %q", accountID)
		}
		return a, nil
	}, doc.Render, doc.Orchestrator.GeneratorVersion)

	sess, err := pool.Acquire(ctx, *account)
	if err != nil {
		log.Fatal().Err(err).Msg("acquire session")
	}
	if err := sess.Login(ctx, acct.Username, acct.Secret); err != nil {
		pool.Release(*account, sess, true)
		log.Fatal().Err(err).Msg("login")
	}
	status, err := sess.Select(ctx, *folder)
	if err != nil {
		pool.Release(*account, sess, true)
		log.Fatal().Err(err).Msg("select folder")
	}
	uids, err := sess.UIDSearch(ctx, "ALL")
	closeSession := err != nil
	pool.Release(*account, sess, closeSession)
	if err != nil {
		log.Fatal().Err(err).Msg("uid search")
	}

	log.Info().Int("count", len(uids)).Str("folder", *folder).Msg("rendering messages")
	for _, uid := range uids {
		result, err := orch.Render(ctx, *account, *folder, status.UIDValidity, uid)
		if err != nil {
			log.Warn().Err(err).Uint32("uid", uid).Msg("render failed")
			continue
		}
		fmt.Printf("uid=%d content_type=%s attachments=%d warnings=%d\n",
			uid, result.ContentType, len(result.Attachments), len(result.Warnings))
	}
}
