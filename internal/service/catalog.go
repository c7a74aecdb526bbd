package service

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/watch"
	log "github.com/sirupsen/logrus"
)

// ClientDefinition is a registered application allowed to start
// authorization requests. Its id is the file name without the .json suffix.
type ClientDefinition struct {
	ID           string     `json:"-"`
	Display      string     `json:"display"`
	RedirectURIs []*url.URL `json:"redirect_uris"`
}

func (c *ClientDefinition) UnmarshalJSON(
	data []byte,
) error {
	type Alias ClientDefinition
	tmp := &struct {
		RedirectURIs []string `json:"redirect_uris"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	if len(tmp.RedirectURIs) == 0 {
		return fmt.Errorf("at least one redirect uri is required")
	}
	c.RedirectURIs = c.RedirectURIs[:0]
	for _, raw := range tmp.RedirectURIs {
		redirect, err := url.Parse(raw)
		if err != nil {
			return err
		}
		if !redirect.IsAbs() || redirect.Fragment != "" {
			return fmt.Errorf("redirect uri '%s' must be absolute without fragment", raw)
		}
		c.RedirectURIs = append(c.RedirectURIs, redirect)
	}
	return nil
}

// AllowsRedirect reports whether raw exactly matches a registered redirect.
func (c *ClientDefinition) AllowsRedirect(raw string) bool {
	return slices.ContainsFunc(c.RedirectURIs, func(u *url.URL) bool {
		return u.String() == raw
	})
}

// ClientCatalog holds the registered clients loaded from a directory of
// JSON files. It is safe for concurrent use and can reload itself when the
// directory changes.
type ClientCatalog struct {
	dir     string
	mu      sync.RWMutex
	clients map[string]*ClientDefinition
	watcher *watch.Watcher
}

func NewClientCatalog(
	dir string,
) (
	*ClientCatalog,
	error,
) {
	clients, err := loadClientDefinitions(dir)
	if err != nil {
		return nil, err
	}
	log.Infof("Loaded %d clients from %s", len(clients), dir)
	return &ClientCatalog{dir: dir, clients: clients}, nil
}

// Watch reloads the catalog whenever its directory changes. A reload that
// fails keeps the previously loaded clients.
func (c *ClientCatalog) Watch(
	debounce time.Duration,
) error {
	watcher, err := watch.Dir(c.dir, debounce, c.reload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.watcher = watcher
	c.mu.Unlock()
	return nil
}

func (c *ClientCatalog) Close() {
	c.mu.Lock()
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if watcher != nil {
		_ = watcher.Close()
	}
}

func (c *ClientCatalog) GetClient(
	id string,
) (
	*ClientDefinition,
	error,
) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if client, ok := c.clients[id]; ok {
		return client, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrClientNotFound, id)
}

// IDs returns the registered client ids in sorted order.
func (c *ClientCatalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.clients))
	for id := range c.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *ClientCatalog) reload() {
	clients, err := loadClientDefinitions(c.dir)
	if err != nil {
		log.Warnf("client catalog reload failed, keeping previous clients: %v", err)
		return
	}
	c.mu.Lock()
	c.clients = clients
	c.mu.Unlock()
	log.Infof("Reloaded %d clients from %s", len(clients), c.dir)
}

func loadClientDefinitions(
	dir string,
) (
	map[string]*ClientDefinition,
	error,
) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients directory '%s': %w", dir, err)
	}

	clients := make(map[string]*ClientDefinition)
	for _, file := range files {
		name := file.Name()
		if !file.Type().IsRegular() || filepath.Ext(name) != ".json" {
			continue
		}
		client, err := loadClientDefinition(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		client.ID = strings.TrimSuffix(name, ".json")
		clients[client.ID] = client
	}
	return clients, nil
}

func loadClientDefinition(
	path string,
) (
	*ClientDefinition,
	error,
) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load client definition: %w", err)
	}

	client := &ClientDefinition{}
	if err := json.Unmarshal(file, client); err != nil {
		return nil, fmt.Errorf("failed to parse json of '%s': %w", path, err)
	}
	return client, nil
}
