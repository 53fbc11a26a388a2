package mgmt

import (
	"fmt"
	"time"

	"github.com/ccnd-go/ccnd/internal/core"
)

// faceModule implements spec §6's newface/destroyface verbs.
type faceModule struct{}

func (*faceModule) verbs() []string { return []string{"newface", "destroyface"} }

func (f *faceModule) handle(m *Manager, verb string, req *request) {
	switch verb {
	case "newface":
		f.newFace(m, req)
	case "destroyface":
		f.destroyFace(m, req)
	}
}

// newFace implements spec §6's "create an outbound face; ARG = signed
// FaceInstance with protocol (UDP/TCP), address, port; reply returns the
// assigned faceid."
func (f *faceModule) newFace(m *Manager, req *request) {
	fi, err := decodeFaceInstance(req.Arg)
	if err != nil {
		core.Log.Warn(m, "newface: malformed ARG", "err", err)
		return
	}

	network := "udp"
	switch fi.Protocol {
	case "tcp", "TCP":
		network = "tcp"
	case "udp", "UDP", "":
		network = "udp"
	default:
		core.Log.Warn(m, "newface: unsupported protocol", "protocol", fi.Protocol)
		return
	}

	addr := fmt.Sprintf("%s:%d", fi.Address, fi.Port)
	nf, err := m.fwd.Faces.MakeConnection(network, addr)
	if err != nil {
		core.Log.Warn(m, "newface: connection failed", "addr", addr, "err", err)
		return
	}
	core.Log.Info(m, "newface created", "face", nf.ID(), "addr", addr)

	reply := &FaceInstance{Protocol: fi.Protocol, Address: fi.Address, Port: fi.Port, FaceID: nf.ID()}
	m.reply(req, reply.Encode(), time.Now())
}

// destroyFace implements spec §6's "destroy by faceid."
func (f *faceModule) destroyFace(m *Manager, req *request) {
	fi, err := decodeFaceInstance(req.Arg)
	if err != nil {
		core.Log.Warn(m, "destroyface: malformed ARG", "err", err)
		return
	}
	target := m.fwd.Faces.Get(fi.FaceID)
	if target == nil {
		core.Log.Warn(m, "destroyface: no such face", "face", fi.FaceID)
		return
	}
	m.fwd.Faces.DestroyFace(target)
	if m.fwd.OnDestroyFace != nil {
		m.fwd.OnDestroyFace(target)
	}
	core.Log.Info(m, "destroyface completed", "face", fi.FaceID)

	reply := &FaceInstance{FaceID: fi.FaceID}
	m.reply(req, reply.Encode(), time.Now())
}
