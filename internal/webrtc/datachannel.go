package webrtc

import (
	pion "github.com/pion/webrtc/v4"
)

// dataChannel adapts a Pion DataChannel to domain.DataChannel.
type dataChannel struct {
	dc *pion.DataChannel
}

func (d *dataChannel) Label() string { return d.dc.Label() }

// Send writes data as a text message; control payloads are JSON.
func (d *dataChannel) Send(data []byte) error {
	return d.dc.SendText(string(data))
}

func (d *dataChannel) OnOpen(f func())  { d.dc.OnOpen(f) }
func (d *dataChannel) OnClose(f func()) { d.dc.OnClose(f) }

func (d *dataChannel) OnMessage(f func(data []byte)) {
	d.dc.OnMessage(func(msg pion.DataChannelMessage) {
		f(msg.Data)
	})
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}
