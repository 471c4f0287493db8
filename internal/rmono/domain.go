package rmono

import (
	"context"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/handle"
)

// CreateDomain creates a second application domain via
// mono_domain_create_appdomain, for hosts that need to load and later
// unload an assembly in isolation from the root domain rather than loading
// everything into it (spec.md §4.1's domain model: RootDomain is just the
// domain Attach found already running — nothing about the rest of this
// engine assumes there is only ever one).
//
// configFile may be "" for no app-config file.
func (c *Context) CreateDomain(ctx context.Context, friendlyName, configFile string) (handle.Raw[Domain], error) {
	nameAddr, releaseName, err := c.writeCString(friendlyName)
	if err != nil {
		return handle.Raw[Domain]{}, err
	}
	defer releaseName()

	configAddr := domain.Null
	if configFile != "" {
		addr, release, err := c.writeCString(configFile)
		if err != nil {
			return handle.Raw[Domain]{}, err
		}
		defer release()
		configAddr = addr
	}

	result, err := c.call(ctx, "mono_domain_create_appdomain", nameAddr, configAddr)
	if err != nil {
		return handle.Raw[Domain]{}, fmt.Errorf("rmono: mono_domain_create_appdomain: %w", err)
	}
	addr := result.(domain.Rptr)
	if addr == domain.Null {
		return handle.Raw[Domain]{}, fmt.Errorf("%w: mono_domain_create_appdomain returned null", domain.ErrBackendFailure)
	}
	return handle.NewRaw[Domain](c.sess.Handles, "Domain", addr), nil
}

// SetDomain switches the attached worker thread's current domain to dom via
// mono_domain_set, returning false if the target refused the switch (e.g.
// dom has already been unloaded). force mirrors mono_domain_set's own
// force parameter: true proceeds even if the current domain has pending
// unhandled exceptions.
func (c *Context) SetDomain(ctx context.Context, dom handle.Raw[Domain], force bool) (bool, error) {
	domPtr, err := dom.Pointer()
	if err != nil {
		return false, err
	}
	result, err := c.call(ctx, "mono_domain_set", domPtr, force)
	if err != nil {
		return false, fmt.Errorf("rmono: mono_domain_set: %w", err)
	}
	return result.(uint64) != 0, nil
}
