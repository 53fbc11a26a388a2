package mgmt

import (
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
)

// prefixModule implements spec §6's prefixreg/selfreg/unreg verbs.
type prefixModule struct{}

func (*prefixModule) verbs() []string { return []string{"prefixreg", "selfreg", "unreg"} }

func (p *prefixModule) handle(m *Manager, verb string, req *request) {
	pe, err := decodePrefixEntry(req.Arg)
	if err != nil {
		core.Log.Warn(m, "malformed PrefixEntry ARG", "verb", verb, "err", err)
		return
	}

	switch verb {
	case "selfreg":
		// spec §6: "same [as prefixreg], where the target face must equal
		// the requester's face."
		pe.FaceID = req.Arrival
		p.register(m, req, pe)
	case "prefixreg":
		if pe.FaceID == 0 {
			pe.FaceID = req.Arrival
		}
		p.register(m, req, pe)
	case "unreg":
		p.unregister(m, req, pe)
	}
}

func (p *prefixModule) register(m *Manager, req *request, pe *PrefixEntry) {
	target := m.fwd.Faces.Get(pe.FaceID)
	if target == nil {
		core.Log.Warn(m, "prefixreg: no such face", "face", pe.FaceID)
		return
	}
	m.fwd.NPT.AddRoute(pe.Prefix, pe.FaceID, pe.Flags, pe.Lifetime)
	core.Log.Info(m, "prefix registered", "prefix", pe.Prefix, "face", pe.FaceID, "lifetime", pe.Lifetime)
	m.reply(req, pe.Encode(), time.Now())
}

// unregister implements spec §6's "remove a single (prefix, face) FIB
// entry."
func (p *prefixModule) unregister(m *Manager, req *request, pe *PrefixEntry) {
	faceID := pe.FaceID
	if faceID == 0 {
		faceID = req.Arrival
	}
	m.fwd.NPT.RemoveRoute(pe.Prefix, faceID)
	core.Log.Info(m, "prefix unregistered", "prefix", pe.Prefix, "face", faceID)
	m.reply(req, pe.Encode(), time.Now())
}
