// Package orders keeps the queue of work for the cell. Orders come
// from a YAML file that operators edit by hand, or over the control
// plane; the book hot-reloads the file without losing orders that are
// already running.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cutcell/vesta/internal/types"
)

const reloadDebounce = 500 * time.Millisecond

type fileSchema struct {
	Orders []fileOrder `yaml:"orders"`
}

type fileOrder struct {
	Name        string             `yaml:"name"`
	Ingredients map[string]float64 `yaml:"ingredients"`
}

type entry struct {
	order    *types.Order
	fromFile bool
}

// Book is the order queue. File reloads replace queued file orders;
// orders already started and operator-added ones stay put.
type Book struct {
	path string

	mu      sync.RWMutex
	entries []entry

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	watching bool
}

// NewBook loads the order file. A missing file yields an empty book;
// the file may show up later and be picked up by Watch.
func NewBook(path string) (*Book, error) {
	if path == "" {
		return nil, fmt.Errorf("order book path is required")
	}
	b := &Book{path: path}

	loaded, err := readFile(path)
	if err != nil {
		return nil, err
	}
	for _, o := range loaded {
		b.entries = append(b.entries, entry{order: o, fromFile: true})
	}
	slog.Info("order book loaded", "path", path, "orders", len(loaded))
	return b, nil
}

// Demo returns the canned order used when the book starts empty
func Demo() (string, map[string]float64) {
	return "Small Fries", map[string]float64{"potato": 100}
}

// AddDemo queues the canned demo order. The controller calls this
// when the book is empty and the operator asks for a bench run.
func (b *Book) AddDemo() (*types.Order, error) {
	name, ingredients := Demo()
	return b.Add(name, ingredients)
}

// Pending returns the queued orders in book order
func (b *Book) Pending() []*types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*types.Order
	for _, e := range b.entries {
		if e.order.Status == types.OrderPending {
			out = append(out, e.order)
		}
	}
	return out
}

// Ingredients returns the ingredient targets for an order
func (b *Book) Ingredients(o *types.Order) (map[string]float64, error) {
	if o == nil {
		return nil, fmt.Errorf("nil order")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(o.Ingredients) == 0 {
		return nil, fmt.Errorf("order %s has no ingredients", o.Name)
	}
	out := make(map[string]float64, len(o.Ingredients))
	for k, v := range o.Ingredients {
		out[k] = v
	}
	return out, nil
}

// SetStatus updates an order under the book's lock so list readers
// never race the sequencer.
func (b *Book) SetStatus(o *types.Order, status types.OrderStatus) {
	if o == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o.Status = status
}

// Add queues an operator-submitted order
func (b *Book) Add(name string, ingredients map[string]float64) (*types.Order, error) {
	if name == "" {
		return nil, fmt.Errorf("order name is required")
	}
	if len(ingredients) == 0 {
		return nil, fmt.Errorf("order %q needs at least one ingredient", name)
	}
	copied := make(map[string]float64, len(ingredients))
	for ing, grams := range ingredients {
		if grams <= 0 {
			return nil, fmt.Errorf("order %q: ingredient %q target must be positive, got %.2f", name, ing, grams)
		}
		copied[ing] = grams
	}

	o := &types.Order{
		ID:          uuid.NewString(),
		Name:        name,
		Ingredients: copied,
		Status:      types.OrderPending,
		CreatedAt:   time.Now(),
	}

	b.mu.Lock()
	b.entries = append(b.entries, entry{order: o})
	b.mu.Unlock()

	slog.Info("order queued", "order_id", o.ID, "name", name, "ingredients", len(copied))
	return o, nil
}

// Orders returns a snapshot of every order in the book
func (b *Book) Orders() []types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Order, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e.order.Clone())
	}
	return out
}

// Reload re-reads the order file. On a parse error the current book
// stays in place.
func (b *Book) Reload() error {
	loaded, err := readFile(b.path)
	if err != nil {
		return err
	}

	b.mu.Lock()
	kept := make([]entry, 0, len(b.entries)+len(loaded))
	for _, e := range b.entries {
		if !e.fromFile || e.order.Status != types.OrderPending {
			kept = append(kept, e)
		}
	}
	for _, o := range loaded {
		kept = append(kept, entry{order: o, fromFile: true})
	}
	b.entries = kept
	total := len(kept)
	b.mu.Unlock()

	slog.Info("order book reloaded", "path", b.path, "file_orders", len(loaded), "total", total)
	return nil
}

// Watch reloads the book whenever the order file changes on disk
func (b *Book) Watch(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watching {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files via rename, which a
	// direct file watch loses track of.
	if err := watcher.Add(filepath.Dir(b.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(b.path), err)
	}

	b.watcher = watcher
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.watching = true

	go b.run(ctx)

	slog.Info("order book watching", "path", b.path)
	return nil
}

// Close stops the watcher if one is running
func (b *Book) Close() error {
	b.mu.Lock()
	if !b.watching {
		b.mu.Unlock()
		return nil
	}
	b.watching = false
	stopCh, doneCh, watcher := b.stopCh, b.doneCh, b.watcher
	b.mu.Unlock()

	close(stopCh)
	<-doneCh
	return watcher.Close()
}

func (b *Book) run(ctx context.Context) {
	defer close(b.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var reloadAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return

		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(b.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce rapid saves
			reloadAt = time.Now().Add(reloadDebounce)

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("order book watcher error", "error", err)

		case <-ticker.C:
			if reloadAt.IsZero() || time.Now().Before(reloadAt) {
				continue
			}
			reloadAt = time.Time{}
			if err := b.Reload(); err != nil {
				slog.Warn("order reload failed",
					"path", b.path,
					"error", err,
					"action", "fix the orders file; the previous book is still active",
				)
			}
		}
	}
}

func readFile(path string) ([]*types.Order, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("orders file not found, starting empty", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read orders file: %w", err)
	}

	var schema fileSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse orders file: %w", err)
	}

	out := make([]*types.Order, 0, len(schema.Orders))
	for i, fo := range schema.Orders {
		if fo.Name == "" {
			return nil, fmt.Errorf("order %d: name is required", i)
		}
		if len(fo.Ingredients) == 0 {
			return nil, fmt.Errorf("order %d (%s): at least one ingredient is required", i, fo.Name)
		}
		ingredients := make(map[string]float64, len(fo.Ingredients))
		for ing, grams := range fo.Ingredients {
			if grams <= 0 {
				return nil, fmt.Errorf("order %d (%s): ingredient %q target must be positive, got %.2f", i, fo.Name, ing, grams)
			}
			ingredients[ing] = grams
		}
		out = append(out, &types.Order{
			ID:          uuid.NewString(),
			Name:        fo.Name,
			Ingredients: ingredients,
			Status:      types.OrderPending,
			CreatedAt:   time.Now(),
		})
	}
	return out, nil
}
