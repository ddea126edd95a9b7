// Package torrc models the subset of a Tor daemon configuration file that
// torito manages: bridges, proxies and their authenticators. Every other line
// of the file is carried through untouched.
package torrc

import "slices"

const (
	StartMarker = "### This file was generated by torito_prototype ###"
	EndMarker   = "### End of generated ###"
)

// Directive is a recognized torrc keyword.
type Directive string

const (
	UseBridges              Directive = "UseBridges"
	Bridge                  Directive = "Bridge"
	HTTPProxy               Directive = "HTTPProxy"
	HTTPProxyAuthenticator  Directive = "HTTPProxyAuthenticator"
	HTTPSProxy              Directive = "HTTPSProxy"
	HTTPSProxyAuthenticator Directive = "HTTPSProxyAuthenticator"
	Socks4Proxy             Directive = "Socks4Proxy"
	Socks5Proxy             Directive = "Socks5Proxy"
	Socks5ProxyUsername     Directive = "Socks5ProxyUsername"
	Socks5ProxyPassword     Directive = "Socks5ProxyPassword"
)

// proxyDirectives is also the serialization order.
var proxyDirectives = []Directive{
	HTTPProxy,
	HTTPProxyAuthenticator,
	HTTPSProxy,
	HTTPSProxyAuthenticator,
	Socks4Proxy,
	Socks5Proxy,
	Socks5ProxyUsername,
	Socks5ProxyPassword,
}

// proxyFields maps each proxy directive to the list it populates.
var proxyFields = map[Directive]func(*ProxyConfig) *[]string{
	HTTPProxy:               func(p *ProxyConfig) *[]string { return &p.HTTPProxy },
	HTTPProxyAuthenticator:  func(p *ProxyConfig) *[]string { return &p.HTTPProxyAuthenticator },
	HTTPSProxy:              func(p *ProxyConfig) *[]string { return &p.HTTPSProxy },
	HTTPSProxyAuthenticator: func(p *ProxyConfig) *[]string { return &p.HTTPSProxyAuthenticator },
	Socks4Proxy:             func(p *ProxyConfig) *[]string { return &p.Socks4Proxy },
	Socks5Proxy:             func(p *ProxyConfig) *[]string { return &p.Socks5Proxy },
	Socks5ProxyUsername:     func(p *ProxyConfig) *[]string { return &p.Socks5ProxyUsername },
	Socks5ProxyPassword:     func(p *ProxyConfig) *[]string { return &p.Socks5ProxyPassword },
}

// Directives returns the proxy directives in the order they are written.
func Directives() []Directive {
	return slices.Clone(proxyDirectives)
}

// IsProxyDirective reports whether d addresses one of the proxy lists.
func IsProxyDirective(d Directive) bool {
	_, ok := proxyFields[d]
	return ok
}

type BridgeConfig struct {
	Bridges []string `yaml:"bridges" json:"bridges" bson:"bridges" validate:"dive,singleline"`
}

type ProxyConfig struct {
	HTTPProxy               []string `yaml:"httpProxy" json:"httpProxy" bson:"httpProxy" validate:"dive,singleline"`
	HTTPProxyAuthenticator  []string `yaml:"httpProxyAuthenticator" json:"httpProxyAuthenticator" bson:"httpProxyAuthenticator" validate:"dive,singleline"`
	HTTPSProxy              []string `yaml:"httpsProxy" json:"httpsProxy" bson:"httpsProxy" validate:"dive,singleline"`
	HTTPSProxyAuthenticator []string `yaml:"httpsProxyAuthenticator" json:"httpsProxyAuthenticator" bson:"httpsProxyAuthenticator" validate:"dive,singleline"`
	Socks4Proxy             []string `yaml:"socks4Proxy" json:"socks4Proxy" bson:"socks4Proxy" validate:"dive,singleline"`
	Socks5Proxy             []string `yaml:"socks5Proxy" json:"socks5Proxy" bson:"socks5Proxy" validate:"dive,singleline"`
	Socks5ProxyUsername     []string `yaml:"socks5ProxyUsername" json:"socks5ProxyUsername" bson:"socks5ProxyUsername" validate:"dive,singleline"`
	Socks5ProxyPassword     []string `yaml:"socks5ProxyPassword" json:"socks5ProxyPassword" bson:"socks5ProxyPassword" validate:"dive,singleline"`
}

// Values returns the list held for d, or nil if d is not a proxy directive.
func (p *ProxyConfig) Values(d Directive) []string {
	field, ok := proxyFields[d]
	if !ok {
		return nil
	}
	return *field(p)
}

// Set replaces the list held for d. It reports false if d is not a proxy directive.
func (p *ProxyConfig) Set(d Directive, values []string) bool {
	field, ok := proxyFields[d]
	if !ok {
		return false
	}
	*field(p) = values
	return true
}

// Config is the parsed torrc. Lines outside the recognized directives are kept in Others.
type Config struct {
	UseBridge    bool         `yaml:"useBridge" json:"useBridge" bson:"useBridge"`
	BridgeConfig BridgeConfig `yaml:"bridgeConfig" json:"bridgeConfig" bson:"bridgeConfig"`
	ProxyConfig  ProxyConfig  `yaml:"proxyConfig" json:"proxyConfig" bson:"proxyConfig"`
	Others       []string     `yaml:"others" json:"others" bson:"others" validate:"dive,singleline"`
}

func New() *Config {
	return &Config{}
}

func (c *Config) Clone() *Config {
	out := &Config{
		UseBridge:    c.UseBridge,
		BridgeConfig: BridgeConfig{Bridges: slices.Clone(c.BridgeConfig.Bridges)},
		Others:       slices.Clone(c.Others),
	}
	for _, d := range proxyDirectives {
		out.ProxyConfig.Set(d, slices.Clone(c.ProxyConfig.Values(d)))
	}
	return out
}
