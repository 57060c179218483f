package gateway

import (
	"listing-core/pkg/exchanges/bitget"
	exchange "listing-core/pkg/exchanges/common"
)

// BitgetFactory builds mix-futures gateways against the given base URL.
// An empty baseURL uses the production endpoint.
func BitgetFactory(baseURL string) Factory {
	return func(apiKey, apiSecret, passphrase string) exchange.Gateway {
		return bitget.New(bitget.Config{
			APIKey:     apiKey,
			APISecret:  apiSecret,
			Passphrase: passphrase,
			BaseURL:    baseURL,
		})
	}
}
