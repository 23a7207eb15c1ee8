package discovery

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// cyclePause separates two passes over the candidate list.
const cyclePause = 100 * time.Millisecond

// DiscoverDeviceAddressesByIdentifier asks every scanner in parallel for
// devices matching id and returns their addresses, UDP first. The first
// scanner with a result ends the search. A zero timeout waits until ctx is
// done.
func DiscoverDeviceAddressesByIdentifier(ctx context.Context, scanners []Scanner, id Identifier, timeout time.Duration) ([]transport.ServerAddress, error) {
	const op = "discovery.DiscoverDeviceAddressesByIdentifier"
	if len(scanners) == 0 {
		return nil, errs.Errorf(errs.KindImplementation, op, "no scanners")
	}
	parent := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		parent, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, found := context.WithCancel(parent)
	defer found()

	var (
		mu    sync.Mutex
		addrs []transport.ServerAddress
		g     errgroup.Group
	)
	for _, s := range scanners {
		g.Go(func() error {
			devices, err := s.FindCommissionableDevices(ctx, id)
			if err != nil && ctx.Err() == nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, d := range devices {
				addrs = mergeAddresses(addrs, d.Addresses...)
			}
			if len(addrs) > 0 {
				found()
			}
			return nil
		})
	}
	err := g.Wait()

	if len(addrs) > 0 {
		return addrs, nil
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return nil, parent.Err()
	}
	if err != nil {
		return nil, errs.E(errs.KindDiscovery, op, err)
	}
	return nil, errs.Errorf(errs.KindDiscovery, op, "no device found for %s", id)
}

// DiscoverOperationalDevice resolves the operational addresses of nodeID.
// Cached scanner records are bypassed when ignoreExisting is set. A zero
// timeout waits until ctx is done.
func DiscoverOperationalDevice(ctx context.Context, f *fabric.Fabric, nodeID fabric.NodeID, scanner Scanner, timeout time.Duration, ignoreExisting bool) ([]transport.ServerAddress, error) {
	const op = "discovery.DiscoverOperationalDevice"
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	addrs, err := scanner.FindOperationalDevice(ctx, f, nodeID, ignoreExisting)
	switch {
	case errors.Is(err, context.Canceled):
		return nil, err
	case err != nil:
		return nil, errs.E(errs.KindDiscovery, op, err)
	case len(addrs) == 0:
		return nil, errs.Errorf(errs.KindDiscovery, op, "node %s not found on %s", nodeID, f)
	}
	return addrs, nil
}

// IterateServerAddresses calls attempt on each address in order until one
// succeeds, and returns its result with the address that produced it.
//
// Failures whose outermost kind is retryable move on to the next candidate.
// Any other failure is returned at once. A candidate is tried at most once
// per pass. After a full pass refresh supplies the next candidates and the
// loop repeats until ctx expires, which is reported as KindDiscovery. When
// refresh has nothing to offer the last retryable error is returned.
func IterateServerAddresses[T any](
	ctx context.Context,
	addresses []transport.ServerAddress,
	retryable errs.Kind,
	refresh func(context.Context) ([]transport.ServerAddress, error),
	attempt func(context.Context, transport.ServerAddress) (T, error),
) (T, transport.ServerAddress, error) {
	const op = "discovery.IterateServerAddresses"
	var (
		zero    T
		lastErr error
	)

	expired := func() (T, transport.ServerAddress, error) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return zero, transport.ServerAddress{}, ctx.Err()
		}
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return zero, transport.ServerAddress{}, errs.E(errs.KindDiscovery, op, lastErr)
	}

	candidates := addresses
	for pass := 0; ; pass++ {
		if pass > 0 {
			select {
			case <-ctx.Done():
				return expired()
			case <-time.After(cyclePause):
			}
		}

		var tried []transport.ServerAddress
		for _, addr := range candidates {
			if slices.ContainsFunc(tried, addr.Equal) {
				continue
			}
			tried = append(tried, addr)
			if ctx.Err() != nil {
				return expired()
			}

			result, err := attempt(ctx, addr)
			if err == nil {
				return result, addr, nil
			}
			if errs.KindOf(err) != retryable {
				return zero, addr, err
			}
			lastErr = err
		}
		if ctx.Err() != nil {
			return expired()
		}

		next, err := refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return expired()
			}
			return zero, transport.ServerAddress{}, errs.E(errs.KindDiscovery, op, err)
		}
		if len(next) == 0 {
			if lastErr == nil {
				lastErr = errs.Errorf(errs.KindDiscovery, op, "no candidate addresses")
			}
			return zero, transport.ServerAddress{}, lastErr
		}
		candidates = next
	}
}
