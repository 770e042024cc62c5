package service

import (
	"sort"
	"strings"
	"sync"

	"vape-recon/internal/reconcile/model"
)

type brand struct {
	name string // как в справочнике
	sig  string // нормализованная форма
}

// Partitioner определяет бренд (company) листинга по самому длинному префиксу сигнатуры.
type Partitioner struct {
	brands   []brand
	fallback string
}

func NewPartitioner(n *Normalizer, names []string, fallback string) *Partitioner {
	seen := make(map[string]struct{}, len(names))
	p := &Partitioner{fallback: fallback}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || name == fallback {
			continue
		}
		sig := n.Normalize(name)
		if sig == UnmatchableSignature {
			continue
		}
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		p.brands = append(p.brands, brand{name: name, sig: sig})
	}
	// самый длинный префикс выигрывает; дальше - лексикографически
	sort.Slice(p.brands, func(i, j int) bool {
		if len(p.brands[i].sig) != len(p.brands[j].sig) {
			return len(p.brands[i].sig) > len(p.brands[j].sig)
		}
		return p.brands[i].sig < p.brands[j].sig
	})
	return p
}

// Company возвращает имя бренда для сигнатуры или fallback.
func (p *Partitioner) Company(signature string) string {
	for _, b := range p.brands {
		if strings.HasPrefix(signature, b.sig) {
			return b.name
		}
	}
	return p.fallback
}

// partitionLocks сериализует запись в один раздел company+category.
type partitionLocks struct {
	mu sync.Mutex
	m  map[model.Partition]*sync.Mutex
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{m: make(map[model.Partition]*sync.Mutex)}
}

func (l *partitionLocks) lock(p model.Partition) func() {
	l.mu.Lock()
	m, ok := l.m[p]
	if !ok {
		m = &sync.Mutex{}
		l.m[p] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
