package dns

import (
	"context"
	"sync"
)

// StaticClient is an in-process VendorClient for development mode and tests.
// Pool and record state live in memory; ResolveAnswer reflects the last
// record write immediately.
type StaticClient struct {
	mu      sync.Mutex
	pools   map[string]*Pool
	records map[string]*Record
}

// NewStaticClient creates an empty StaticClient.
func NewStaticClient() *StaticClient {
	return &StaticClient{
		pools:   make(map[string]*Pool),
		records: make(map[string]*Record),
	}
}

// AddPool seeds a traffic pool.
func (c *StaticClient) AddPool(p Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := p
	cp.Origins = append([]Origin(nil), p.Origins...)
	c.pools[p.Name] = &cp
}

// AddRecord seeds a DNS record.
func (c *StaticClient) AddRecord(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := r
	c.records[r.Name] = &cp
}

func (c *StaticClient) GetPool(_ context.Context, name string) (*Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[name]
	if !ok {
		return nil, ErrPoolNotFound
	}
	cp := *p
	cp.Origins = append([]Origin(nil), p.Origins...)
	return &cp, nil
}

func (c *StaticClient) UpdatePoolOrigin(_ context.Context, poolID string, origin Origin) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		if p.ID != poolID {
			continue
		}
		for i := range p.Origins {
			if p.Origins[i].Name == origin.Name {
				p.Origins[i] = origin
				return nil
			}
		}
		p.Origins = append(p.Origins, origin)
		return nil
	}
	return ErrPoolNotFound
}

func (c *StaticClient) GetRecord(_ context.Context, hostname string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[hostname]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (c *StaticClient) UpdateRecord(_ context.Context, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[rec.Name]; !ok {
		return ErrRecordNotFound
	}
	cp := rec
	c.records[rec.Name] = &cp
	return nil
}

func (c *StaticClient) ResolveAnswer(_ context.Context, hostname string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[hostname]
	if !ok {
		return "", ErrRecordNotFound
	}
	return r.Value, nil
}
