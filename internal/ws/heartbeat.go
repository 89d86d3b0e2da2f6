package ws

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// keepAlive pings every connection once per PingInterval until Shutdown.
// Browsers answer pings without any page script, so an open editor tab stays
// registered while a closed laptop lid gets swept.
func (s *Server) keepAlive() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			if n := s.sweep(now); n > 0 {
				log.Debugf("[ws] keep-alive dropped %d preview connection(s)", n)
			}
		}
	}
}

// sweep drops connections silent for longer than IdleTimeout and pings the
// others. It returns how many were dropped.
func (s *Server) sweep(now time.Time) int {
	dropped := 0
	for _, c := range s.conns.All() {
		silent := now.Sub(c.LastSeen())
		if s.config.IdleTimeout > 0 && silent > s.config.IdleTimeout {
			log.Infof("[ws] preview %s silent for %s, closing", c.ID, silent.Round(time.Second))
			s.RemoveConnection(c)
			dropped++
			continue
		}
		if err := c.WritePing(); err != nil {
			log.Infof("[ws] preview %s ping failed: %v", c.ID, err)
			s.RemoveConnection(c)
			dropped++
		}
	}
	return dropped
}
