package backend

import (
	"errors"
	"fmt"
)

// Server is one WebUI instance. Index is its identity in the pool.
type Server struct {
	Index int
	URL   string
}

// Pool is the ordered, immutable set of backends.
type Pool struct {
	servers []string
}

// NewPool copies servers into a new Pool. At least one server is required.
func NewPool(servers []string) (*Pool, error) {
	if len(servers) == 0 {
		return nil, errors.New("backend: pool needs at least one server")
	}
	s := make([]string, len(servers))
	copy(s, servers)
	return &Pool{servers: s}, nil
}

// Len returns the number of servers.
func (p *Pool) Len() int {
	return len(p.servers)
}

// Get returns the server at index, or false if index is out of range.
func (p *Pool) Get(index int) (Server, bool) {
	if index < 0 || index >= len(p.servers) {
		return Server{}, false
	}
	return Server{Index: index, URL: p.servers[index]}, true
}

// Select picks a backend for a request. With no explicit index it uses
// counter mod Len(); counter is the free-running admission sequence, so
// sequential requests cycle through the pool while bursts of concurrent
// ones spread only approximately. An explicit
// index that is out of range falls back to server 0 and returns a notice
// for the caller. Select never fails.
func (p *Pool) Select(counter int64, explicit *int) (Server, string) {
	if explicit != nil {
		if s, ok := p.Get(*explicit); ok {
			return s, ""
		}
		return Server{Index: 0, URL: p.servers[0]},
			fmt.Sprintf("server %d does not exist, falling back to server 0", *explicit)
	}

	if counter < 0 {
		counter = 0
	}
	idx := int(counter % int64(len(p.servers)))
	return Server{Index: idx, URL: p.servers[idx]}, ""
}

// URLs returns a copy of the configured endpoints.
func (p *Pool) URLs() []string {
	out := make([]string, len(p.servers))
	copy(out, p.servers)
	return out
}
