package app

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/watch"
	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// Pages renders the authority's HTML. Templates are embedded in the binary;
// an override directory may replace any of them by file name.
type Pages struct {
	overrideDir string

	mu        sync.RWMutex
	templates *template.Template
	watcher   *watch.Watcher
}

func LoadPages(
	overrideDir string,
) (
	*Pages,
	error,
) {
	p := &Pages{overrideDir: overrideDir}
	templates, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.templates = templates
	return p, nil
}

// Watch re-parses the templates when the override directory changes. A
// broken edit keeps the last good templates.
func (p *Pages) Watch(
	debounce time.Duration,
) error {
	if p.overrideDir == "" {
		return nil
	}
	watcher, err := watch.Dir(p.overrideDir, debounce, p.reload)
	if err != nil {
		return fmt.Errorf("failed to start template watcher: %w", err)
	}
	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()
	return nil
}

func (p *Pages) Close() {
	p.mu.Lock()
	watcher := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if watcher != nil {
		_ = watcher.Close()
	}
}

// Render writes the named template with the given status. Rendering happens
// into a buffer first so a template error never leaves half a page behind.
func (p *Pages) Render(
	w http.ResponseWriter,
	status int,
	name string,
	data any,
) error {
	p.mu.RLock()
	templates := p.templates
	p.mu.RUnlock()

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(serverErrorText))
		return fmt.Errorf("couldn't render template '%s': %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *Pages) reload() {
	templates, err := p.parse()
	if err != nil {
		log.Warnf("Failed to parse templates, keeping previous: %v", err)
		return
	}
	p.mu.Lock()
	p.templates = templates
	p.mu.Unlock()
	log.Infof("Reloaded templates from %s", p.overrideDir)
}

func (p *Pages) parse() (*template.Template, error) {
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		return nil, err
	}
	templates, err := template.ParseFS(sub, "*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded templates: %w", err)
	}
	if p.overrideDir == "" {
		return templates, nil
	}

	overrides, err := filepath.Glob(filepath.Join(p.overrideDir, "*.html"))
	if err != nil {
		return nil, err
	}
	for _, path := range overrides {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template '%s': %w", path, err)
		}
		if _, err := templates.New(filepath.Base(path)).Parse(string(content)); err != nil {
			return nil, fmt.Errorf("failed to parse template '%s': %w", path, err)
		}
	}
	return templates, nil
}

const serverErrorText = "internal server error\n"
