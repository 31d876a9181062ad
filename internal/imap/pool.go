package imap

import (
	"context"
	"sync"

	"github.com/inboxcore/mailcore/internal/config"
	"github.com/inboxcore/mailcore/internal/logging"
	"github.com/inboxcore/mailcore/internal/mailerr"
	"github.com/rs/zerolog"
)

// Pool holds exactly one reusable session per account, under an
// exclusive-access discipline: a single logical acquirer at a time.
// This generalises the teacher's N-connection Pool/PooledConnection
// down to the one-session-per-account shape the protocol actually
// needs — IMAP's tagged/untagged interleaving and literal discipline
// require a single consumer per connection, so pooling several
// connections per account buys nothing the teacher's MaxConnections
// knob didn't already serialise around per command.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	waiters map[string][]chan *Session
	getCfg  func(accountID string) (config.Account, error)
	log     zerolog.Logger
}

type poolEntry struct {
	session *Session
	inUse   bool
}

// NewPool creates a pool that resolves an account's connection
// settings through getCfg the first time it is acquired.
func NewPool(getCfg func(accountID string) (config.Account, error)) *Pool {
	return &Pool{
		entries: make(map[string]*poolEntry),
		waiters: make(map[string][]chan *Session),
		getCfg:  getCfg,
		log:     logging.WithComponent("imap-pool"),
	}
}

// Acquire returns the account's existing open session if one is free,
// opens a fresh one if none exists (or the existing one closed), or
// waits for the current holder to Release if the account is busy.
// Authentication and mailbox selection on a freshly opened session are
// the caller's responsibility.
func (p *Pool) Acquire(ctx context.Context, accountID string) (*Session, error) {
	for {
		p.mu.Lock()
		entry, ok := p.entries[accountID]
		switch {
		case ok && !entry.inUse && entry.session.State() != StateClosed:
			entry.inUse = true
			p.mu.Unlock()
			return entry.session, nil
		case ok && entry.inUse:
			waiter := make(chan *Session, 1)
			p.waiters[accountID] = append(p.waiters[accountID], waiter)
			p.mu.Unlock()
			select {
			case sess, open := <-waiter:
				if !open {
					return nil, mailerr.New(mailerr.Closed, "pool closed")
				}
				if sess == nil {
					continue
				}
				return sess, nil
			case <-ctx.Done():
				p.removeWaiter(accountID, waiter)
				return nil, ctx.Err()
			}
		default:
			p.mu.Unlock()
			return p.open(ctx, accountID)
		}
	}
}

func (p *Pool) open(ctx context.Context, accountID string) (*Session, error) {
	acct, err := p.getCfg(accountID)
	if err != nil {
		return nil, mailerr.Wrap(mailerr.InvalidState, "no connection settings for account "+accountID, err)
	}
	cfg := TransportConfig{
		Host:           acct.Host,
		Port:           acct.Port,
		TLS:            TLSMode(acct.TLSMode),
		SNI:            acct.SNI,
		ConnectTimeout: acct.ConnectTimeout,
		CommandTimeout: acct.CommandTimeout,
		IdleTimeout:    acct.IdleTimeout,
	}

	type result struct {
		sess *Session
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		sess, err := NewSession(cfg)
		ch <- result{sess, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			p.log.Debug().Str("account", accountID).Err(r.err).Msg("failed to open session")
			return nil, r.err
		}
		p.mu.Lock()
		p.entries[accountID] = &poolEntry{session: r.sess, inUse: true}
		p.mu.Unlock()
		p.log.Debug().Str("account", accountID).Msg("opened new session")
		return r.sess, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.sess != nil {
				r.sess.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Release returns sess to the pool for reuse, or tears it down when
// closeSession is set (or the session has already gone Closed on its
// own). A waiter blocked in Acquire for the same account, if any,
// receives the session (or is told to retry, if it was torn down)
// before any new acquirer would see it.
func (p *Pool) Release(accountID string, sess *Session, closeSession bool) {
	p.mu.Lock()
	entry, ok := p.entries[accountID]
	if !ok || entry.session != sess {
		p.mu.Unlock()
		if closeSession {
			sess.Close()
		}
		return
	}

	if closeSession || sess.State() == StateClosed {
		_ = sess.Close()
		delete(p.entries, accountID)
		p.mu.Unlock()
		p.handOff(accountID, nil)
		return
	}

	entry.inUse = false
	p.mu.Unlock()
	p.handOff(accountID, sess)
}

// handOff gives sess directly to the oldest waiter for accountID, if
// any, so a released session is never raced by a concurrent new open.
func (p *Pool) handOff(accountID string, sess *Session) {
	p.mu.Lock()
	waiters := p.waiters[accountID]
	if len(waiters) == 0 {
		p.mu.Unlock()
		return
	}
	w := waiters[0]
	p.waiters[accountID] = waiters[1:]
	if sess != nil {
		if e, ok := p.entries[accountID]; ok {
			e.inUse = true
		}
	}
	p.mu.Unlock()
	w <- sess
}

func (p *Pool) removeWaiter(accountID string, waiter chan *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws := p.waiters[accountID]
	for i, w := range ws {
		if w == waiter {
			p.waiters[accountID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

// InvalidateAll tears down every open session in the pool and releases
// every blocked waiter with a closed-pool error.
func (p *Pool) InvalidateAll() {
	p.mu.Lock()
	entries := p.entries
	waiters := p.waiters
	p.entries = make(map[string]*poolEntry)
	p.waiters = make(map[string][]chan *Session)
	p.mu.Unlock()

	for _, e := range entries {
		_ = e.session.Close()
	}
	for _, ws := range waiters {
		for _, w := range ws {
			close(w)
		}
	}
}
