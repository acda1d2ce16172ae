package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

const (
	// tokenSafetyMargin is how long before expiry a token stops counting
	// as valid and a refresh kicks in.
	tokenSafetyMargin = 60 * time.Second

	refreshRetryDelay = 10 * time.Second
	maxRefreshSleep   = time.Hour
)

// CredentialLease owns the access token for the session. Readers call
// EnsureValid; a background refresher keeps the token fresh so callers
// rarely block. Refreshes are single-flight: concurrent EnsureValid calls
// during an in-flight refresh wait for it instead of issuing their own.
type CredentialLease struct {
	provider domain.TokenProvider
	log      *zap.Logger

	mu     sync.RWMutex // guards token and expiry
	token  string
	expiry time.Time

	refreshMu sync.Mutex // serializes refresh critical sections

	runMu   sync.Mutex
	running bool
	stop    chan struct{}

	timeNow func() time.Time
}

func NewCredentialLease(provider domain.TokenProvider, log *zap.Logger) *CredentialLease {
	return &CredentialLease{
		provider: provider,
		log:      log,
		timeNow:  time.Now,
	}
}

// EnsureValid returns a token guaranteed valid for at least the safety
// margin, refreshing first when needed.
func (l *CredentialLease) EnsureValid(ctx context.Context) (string, error) {
	if token, ok := l.current(); ok {
		return token, nil
	}

	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	// Someone may have finished refreshing while we waited for the lock.
	if token, ok := l.current(); ok {
		return token, nil
	}
	return l.refresh(ctx)
}

func (l *CredentialLease) current() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.token == "" {
		return "", false
	}
	if !l.timeNow().Add(tokenSafetyMargin).Before(l.expiry) {
		return "", false
	}
	return l.token, true
}

// refresh must be called with refreshMu held.
func (l *CredentialLease) refresh(ctx context.Context) (string, error) {
	token, expiry, err := l.provider.RequestToken(ctx)
	if err != nil {
		if _, ok := err.(*domain.AuthError); ok {
			return "", err
		}
		return "", &domain.AuthError{Reason: "refresh", Err: err}
	}

	l.mu.Lock()
	l.token = token
	l.expiry = expiry
	l.mu.Unlock()

	l.log.Info("access token refreshed", zap.Time("expiry", expiry))
	return token, nil
}

// Start launches the self-refresh task. Idempotent.
func (l *CredentialLease) Start() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	go l.refreshLoop(l.stop)
}

func (l *CredentialLease) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	close(l.stop)
}

// refreshLoop sleeps until the safety margin before expiry, refreshes, and
// repeats. Failures retry after a fixed delay so the lease self-heals.
func (l *CredentialLease) refreshLoop(stop chan struct{}) {
	for {
		l.mu.RLock()
		token, expiry := l.token, l.expiry
		l.mu.RUnlock()

		var wait time.Duration
		if token != "" {
			wait = expiry.Sub(l.timeNow()) - tokenSafetyMargin
		}

		if wait > 0 {
			// Sleep in bounded slices so a replaced expiry is re-read.
			if wait > maxRefreshSleep {
				wait = maxRefreshSleep
			}
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_, err := l.EnsureValid(ctx)
		cancel()
		if err != nil {
			l.log.Warn("token refresh failed, retrying", zap.Error(err))
			select {
			case <-stop:
				return
			case <-time.After(refreshRetryDelay):
			}
			continue
		}

		if _, ok := l.current(); !ok {
			// The venue issued a token shorter than the safety margin; pace
			// the refreshes instead of hammering the token endpoint.
			select {
			case <-stop:
				return
			case <-time.After(refreshRetryDelay):
			}
		}
	}
}
