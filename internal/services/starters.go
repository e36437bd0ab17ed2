package services

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// defaultStarters ships with the binary so the endpoint works without a
// template file.
var defaultStarters = []string{
	"Looks like we're both stuck here until the rain lets up.",
	"Did you get caught in it too, or did you see it coming?",
	"What would you be doing right now if it weren't raining?",
	"Coffee or tea while we wait it out?",
	"Rainy days: cozy or miserable?",
	"What's the best thing that happened to you this week?",
	"If this cafe had a jukebox, what would you put on?",
	"Window seat or corner table?",
}

type startersFile struct {
	Starters []string `yaml:"starters"`
}

// StarterService serves conversation starter suggestions. Deployments can
// override the built-in set with a YAML file.
type StarterService struct {
	mu       sync.RWMutex
	starters []string
}

// NewStarterService loads templates from path when given, otherwise uses the
// built-in set. A broken file fails startup rather than silently serving
// nothing.
func NewStarterService(path string) (*StarterService, error) {
	s := &StarterService{starters: defaultStarters}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read starters file: %w", err)
	}
	var f startersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse starters file: %w", err)
	}
	if len(f.Starters) == 0 {
		return nil, fmt.Errorf("starters file %s has no starters", path)
	}
	s.starters = f.Starters
	return s, nil
}

// Pick returns up to n distinct starters in random order.
func (s *StarterService) Pick(n int) []string {
	s.mu.RLock()
	pool := s.starters
	s.mu.RUnlock()

	if n <= 0 {
		n = 3
	}
	if n > len(pool) {
		n = len(pool)
	}
	idx := rand.Perm(len(pool))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}
