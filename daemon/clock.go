package daemon

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// cannot query NTP servers faster than once per:
const ntpRateLimit = time.Second * 2

// should refresh the clock offset every:
const ntpRefreshRate = time.Minute * 5

// Clock is the device wall clock. Boards in the field have no battery
// clock worth trusting, so object timestamps come from the system clock
// plus an offset a background NTP refresh keeps current when the device
// has a network.
type Clock struct {
	mu      sync.Mutex
	offset  time.Duration
	queried time.Time
	server  string
}

// Now returns the corrected wall-clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

// Query asks host for the clock offset once and reports whether the
// offset was updated.
func (c *Clock) Query(host string) bool {
	log.Printf("daemon: ntp query: %s\n", host)
	response, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: 5 * time.Second})

	c.mu.Lock()
	c.queried = time.Now()
	c.mu.Unlock()

	if err != nil {
		log.Printf("daemon: ntp query error: %s: %v\n", host, err)
		return false
	}
	if response.Stratum == 0 {
		log.Printf("daemon: ntp query error: %s: stratum=%v, kissCode=%v\n", host, response.Stratum, response.KissCode)
		return false
	}

	c.mu.Lock()
	c.offset = response.ClockOffset
	c.server = host
	c.mu.Unlock()
	log.Printf("daemon: ntp result: %s; %v\n", host, response.ClockOffset)
	return true
}

// RefreshLoop queries host until ctx ends. The first query fires
// immediately; failures retry at the rate limit instead of waiting out
// the refresh interval.
func (c *Clock) RefreshLoop(ctx context.Context, host string) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			since := time.Since(c.queried)
			c.mu.Unlock()
			if since < ntpRateLimit {
				t.Reset(ntpRateLimit - since)
				break
			}
			if c.Query(host) {
				t.Reset(ntpRefreshRate)
			} else {
				t.Reset(ntpRateLimit)
			}
		}
	}
}
