// Package ethrpc maintains a process-wide registry of JSON-RPC clients,
// one per endpoint URL. Chains that share an endpoint share a client and
// its connection pool.
package ethrpc

import (
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	mu      sync.Mutex
	clients = make(map[string]*ethclient.Client)
)

// Client returns the shared client for url, dialing it on first use.
func Client(url string) (*ethclient.Client, error) {
	mu.Lock()
	defer mu.Unlock()

	if c, ok := clients[url]; ok {
		return c, nil
	}
	c, err := ethclient.Dial(url)
	if err != nil {
		return nil, err
	}
	clients[url] = c
	return c, nil
}

// CloseAll tears down every registered client. Called once at shutdown;
// the registry is unusable afterwards.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()

	for url, c := range clients {
		c.Close()
		delete(clients, url)
	}
}
