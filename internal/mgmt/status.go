package mgmt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
	"github.com/ccnd-go/ccnd/internal/face"
)

// statusModule implements the supplemented ccndstatus report (original_source's
// ccnd_stats_* family), reachable as a "status" verb directly under the
// management prefix (ccnx:/ccnx/<ccnd-id>/status). Grounded on the teacher's
// fw/mgmt/forwarder-status.go ForwarderStatusModule shape, adapted from its
// per-thread PIT/CS counters to this daemon's single event loop.
type statusModule struct {
	startTime time.Time
}

func (*statusModule) verbs() []string { return []string{"status"} }

func (s *statusModule) handle(m *Manager, verb string, req *request) {
	if s.startTime.IsZero() {
		s.startTime = time.Now()
	}

	html := len(req.Arg) > 0 && bytes.Equal(req.Arg, []byte("html"))

	faces, gg := s.countFaces(m)
	body := s.render(m, html, faces, gg)

	core.Log.Info(m, "status report sent", "html", html, "faces", faces)
	m.reply(req, body, time.Now())
}

// countFaces walks the live face table once, counting total faces and
// those carrying the GG capability.
func (s *statusModule) countFaces(m *Manager) (total, gg int) {
	m.fwd.Faces.All(func(f *face.Face) {
		total++
		if f.Flags().Has(face.FlagGG) {
			gg++
		}
	})
	return
}

func (s *statusModule) render(m *Manager, html bool, faces, gg int) []byte {
	uptime := time.Since(s.startTime).Round(time.Second)
	pit := m.fwd.PIT.Len()
	cs := m.fwd.CS.Len()
	csCap := m.fwd.CS.Capacity()
	hits := m.fwd.CS.Hits()
	misses := m.fwd.CS.Misses()

	if html {
		var b bytes.Buffer
		fmt.Fprintf(&b, "<html><head><title>ccnd status</title></head><body>")
		fmt.Fprintf(&b, "<h1>ccnd status</h1><ul>")
		fmt.Fprintf(&b, "<li>uptime: %s</li>", uptime)
		fmt.Fprintf(&b, "<li>faces: %d (%d GG)</li>", faces, gg)
		fmt.Fprintf(&b, "<li>pit entries: %d</li>", pit)
		fmt.Fprintf(&b, "<li>content store: %d/%d (hits %d, misses %d)</li>", cs, csCap, hits, misses)
		fmt.Fprintf(&b, "</ul></body></html>")
		return b.Bytes()
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "ccnd status\n")
	fmt.Fprintf(&b, "uptime %s\n", uptime)
	fmt.Fprintf(&b, "faces %d (%d GG)\n", faces, gg)
	fmt.Fprintf(&b, "pit %d\n", pit)
	fmt.Fprintf(&b, "cs %d/%d hits %d misses %d\n", cs, csCap, hits, misses)
	return b.Bytes()
}
