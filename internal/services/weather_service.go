package services

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"amayadori/internal/models"
	"amayadori/internal/store"
)

// WeatherPolicy is the optional local policy file. It is the stand-in for an
// external weather decision: deployments that gate admission drop a JSON file
// next to the binary and flip it without a restart.
type WeatherPolicy struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
	// DenyQueueKeys denies only the listed keys while Allow stays true.
	DenyQueueKeys []string `json:"denyQueueKeys,omitempty"`
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Mode    string
	Reason  string
}

// WeatherService evaluates the admission gate. The mode (off/log/enforce)
// comes from the runtime config document, cached briefly so the enter path
// does not read Mongo on every request.
type WeatherService struct {
	store store.Store
	stats *StatsService

	policyPath string
	mu         sync.RWMutex
	policy     WeatherPolicy

	cache *gocache.Cache
}

const runtimeConfigCacheKey = "runtime_config"

func NewWeatherService(st store.Store, stats *StatsService, policyPath string) *WeatherService {
	return &WeatherService{
		store:      st,
		stats:      stats,
		policyPath: policyPath,
		policy:     WeatherPolicy{Allow: true},
		cache:      gocache.New(30*time.Second, time.Minute),
	}
}

// Start loads the policy file and begins watching it for changes. A missing
// path disables file-based policy entirely (gate decides allow).
func (w *WeatherService) Start(ctx context.Context) error {
	if w.policyPath == "" {
		return nil
	}
	w.loadPolicy()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace the file, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(w.policyPath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.policyPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, w.loadPolicy)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ weather policy watcher error: %v", err)
			}
		}
	}()

	log.Printf("✅ Weather policy file watcher started: %s", w.policyPath)
	return nil
}

func (w *WeatherService) loadPolicy() {
	data, err := os.ReadFile(w.policyPath)
	if err != nil {
		log.Printf("⚠️ weather policy read failed, keeping previous policy: %v", err)
		return
	}
	var p WeatherPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("⚠️ weather policy parse failed, keeping previous policy: %v", err)
		return
	}
	w.mu.Lock()
	w.policy = p
	w.mu.Unlock()
	log.Printf("🌦️ Weather policy reloaded: allow=%v reason=%q", p.Allow, p.Reason)
}

// SetPolicy replaces the in-memory policy. Test hook and admin escape hatch.
func (w *WeatherService) SetPolicy(p WeatherPolicy) {
	w.mu.Lock()
	w.policy = p
	w.mu.Unlock()
}

// RuntimeConfig returns the cached runtime config document.
func (w *WeatherService) RuntimeConfig(ctx context.Context) models.RuntimeConfig {
	if cached, ok := w.cache.Get(runtimeConfigCacheKey); ok {
		return cached.(models.RuntimeConfig)
	}
	rc, err := w.store.GetRuntimeConfig(ctx)
	if err != nil {
		log.Printf("⚠️ runtime config read failed, using defaults: %v", err)
		rc = models.DefaultRuntimeConfig()
	}
	w.cache.Set(runtimeConfigCacheKey, rc, gocache.DefaultExpiration)
	return rc
}

// UpdateRuntimeConfig persists a new runtime config and drops the cache so
// this node sees it immediately. Other nodes converge within the cache TTL.
func (w *WeatherService) UpdateRuntimeConfig(ctx context.Context, rc models.RuntimeConfig) error {
	rc.UpdatedAt = time.Now().UTC()
	if err := w.store.SetRuntimeConfig(ctx, rc); err != nil {
		return err
	}
	w.cache.Delete(runtimeConfigCacheKey)
	return nil
}

// Check runs the admission gate for one enter attempt. Log mode audits the
// would-be denial but admits; enforce mode denies and counts it.
func (w *WeatherService) Check(ctx context.Context, uid, queueKey string, now time.Time) Decision {
	mode := w.RuntimeConfig(ctx).WeatherMode
	if mode == models.WeatherModeOff {
		return Decision{Allowed: true, Mode: mode}
	}

	w.mu.RLock()
	policy := w.policy
	w.mu.RUnlock()

	allowed := policy.Allow
	reason := policy.Reason
	if allowed {
		for _, k := range policy.DenyQueueKeys {
			if k == queueKey {
				allowed = false
				if reason == "" {
					reason = "queue key closed"
				}
				break
			}
		}
	}

	if allowed {
		return Decision{Allowed: true, Mode: mode}
	}

	w.audit(ctx, uid, mode, mode == models.WeatherModeLog, reason, now)
	if mode == models.WeatherModeLog {
		return Decision{Allowed: true, Mode: mode, Reason: reason}
	}
	w.stats.CountWeatherDenied(ctx, now)
	return Decision{Allowed: false, Mode: mode, Reason: reason}
}

func (w *WeatherService) audit(ctx context.Context, uid, mode string, allowed bool, reason string, now time.Time) {
	err := w.store.PutWeatherAudit(ctx, models.WeatherAudit{
		ID:        uuid.NewString(),
		UID:       uid,
		Mode:      mode,
		Allowed:   allowed,
		Reason:    reason,
		CreatedAt: now,
	})
	if err != nil {
		log.Printf("⚠️ weather audit write failed: %v", err)
	}
}
