package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/starknet"
	"github.com/canopy-network/arcadex/pkg/store"
)

// DefaultPollInterval is how often watched balances are refreshed.
const DefaultPollInterval = 30 * time.Second

// Balances is token address -> balance for one account.
type Balances map[string]*big.Int

// PollerOpts configures a Poller.
type PollerOpts struct {
	Interval time.Duration
	Logger   *zap.Logger
	// OnUpdate is called after each successful poll of an account.
	OnUpdate func(account string, balances Balances)
}

// Poller refreshes ERC-20 balances of watched accounts on a cron schedule. Ticks are
// skipped while the poller is not visible.
type Poller struct {
	client   Client
	logger   *zap.Logger
	interval time.Duration
	onUpdate func(string, Balances)

	cron    *cron.Cron
	visible atomic.Bool

	watches  *xsync.Map[string, store.Set]
	balances *store.Store[string, Balances]
}

func NewPoller(client Client, o PollerOpts) *Poller {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	logger := logging.OrNop(o.Logger)
	p := &Poller{
		client:   client,
		logger:   logger,
		interval: o.Interval,
		onUpdate: o.OnUpdate,
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger))))),
		watches:  xsync.NewMap[string, store.Set](),
		balances: store.New[string, Balances](mergeBalances),
	}
	p.visible.Store(true)
	return p
}

// mergeBalances keeps tokens missing from the latest poll and takes the polled value for
// the rest. Only the poll loop writes, so incoming is always the newer reading.
func mergeBalances(current, incoming Balances) Balances {
	return store.MergeMaps(current, incoming, func(_, polled *big.Int) *big.Int { return polled })
}

// Watch adds tokens to the set polled for account.
func (p *Poller) Watch(account string, tokens ...string) error {
	acct, err := starknet.Normalize(account)
	if err != nil {
		return err
	}
	normalized := make([]string, 0, len(tokens))
	for _, t := range tokens {
		n, err := starknet.Normalize(t)
		if err != nil {
			return err
		}
		normalized = append(normalized, n)
	}
	p.watches.Compute(acct, func(current store.Set, _ bool) (store.Set, xsync.ComputeOp) {
		return store.Union(current, store.NewSet(normalized...)), xsync.UpdateOp
	})
	return nil
}

// Unwatch stops polling account and forgets its balances.
func (p *Poller) Unwatch(account string) {
	acct := starknet.MustNormalize(account)
	p.watches.Delete(acct)
	p.balances.Delete(acct)
}

// SetVisible toggles polling. Hidden pollers keep their schedule but skip every tick.
func (p *Poller) SetVisible(v bool) {
	p.visible.Store(v)
}

// Balances returns the last known balances of account.
func (p *Poller) Balances(account string) Balances {
	current, _ := p.balances.Get(starknet.MustNormalize(account))
	out := make(Balances, len(current))
	for k, v := range current {
		out[k] = v
	}
	return out
}

// Poll refreshes every watched balance once. It returns nil without calling the node when
// the poller is hidden. Failures of single balances do not stop the others.
func (p *Poller) Poll(ctx context.Context) error {
	if !p.visible.Load() {
		p.logger.Debug("Skipping balance poll while hidden")
		return nil
	}

	var errs []error
	p.watches.Range(func(account string, tokens store.Set) bool {
		fresh := make(Balances, len(tokens))
		for token := range tokens {
			bal, err := p.client.BalanceOf(ctx, token, account)
			if err != nil {
				if ctx.Err() != nil {
					errs = append(errs, ctx.Err())
					return false
				}
				p.logger.Warn("Balance poll failed",
					zap.String("account", account),
					zap.String("token", token),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("%s/%s: %w", account, token, err))
				continue
			}
			fresh[token] = bal
		}
		if len(fresh) == 0 {
			return true
		}
		merged := p.balances.Merge(account, fresh)
		if p.onUpdate != nil {
			p.onUpdate(account, merged)
		}
		return true
	})
	return errors.Join(errs...)
}

// Start schedules Poll every interval until Stop.
func (p *Poller) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %s", p.interval)
	_, err := p.cron.AddFunc(schedule, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, p.interval)
		defer cancel()
		if err := p.Poll(rctx); err != nil {
			p.logger.Debug("Balance poll finished with errors", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule balance poll: %w", err)
	}
	p.cron.Start()
	p.logger.Info("Balance poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop waits for a running poll and stops the schedule.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}
