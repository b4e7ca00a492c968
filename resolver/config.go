package resolver

import (
	"github.com/use-agent/linkgate/browser"
	"github.com/use-agent/linkgate/config"
	"github.com/use-agent/linkgate/heuristics"
)

// NewFromConfig builds a Resolver with the configured backend and
// heuristics file.
func NewFromConfig(browserCfg config.BrowserConfig, resolverCfg config.ResolverConfig) (*Resolver, error) {
	h, err := heuristics.Load(resolverCfg.HeuristicsFile)
	if err != nil {
		return nil, err
	}

	launcher, err := browser.NewLauncher(browserCfg.Backend, browser.Options{
		Headless:          browserCfg.Headless,
		NoSandbox:         browserCfg.NoSandbox,
		BrowserBin:        browserCfg.BrowserBin,
		Proxy:             browserCfg.Proxy,
		UserAgent:         browserCfg.UserAgent,
		NavigationTimeout: resolverCfg.NavigationTimeout,
		IdleWindow:        resolverCfg.IdleWindow,
		Stealth:           browserCfg.Stealth,
	})
	if err != nil {
		return nil, err
	}
	return New(launcher, h), nil
}
