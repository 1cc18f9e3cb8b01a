package fakes

import (
	"errors"
	"sync"
)

// DataChannel is an in-memory domain.DataChannel. Tests drive it with
// Open, Receive and RemoteClose.
type DataChannel struct {
	SendErr error

	label string

	mu        sync.Mutex
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
	sent      [][]byte
	closed    bool
}

// NewDataChannel returns a DataChannel with the given label.
func NewDataChannel(label string) *DataChannel {
	return &DataChannel{label: label}
}

func (d *DataChannel) Label() string { return d.label }

func (d *DataChannel) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendErr != nil {
		return d.SendErr
	}
	if d.closed {
		return errors.New("fake data channel closed")
	}
	d.sent = append(d.sent, append([]byte(nil), data...))
	return nil
}

func (d *DataChannel) OnOpen(f func()) {
	d.mu.Lock()
	d.onOpen = f
	d.mu.Unlock()
}

func (d *DataChannel) OnClose(f func()) {
	d.mu.Lock()
	d.onClose = f
	d.mu.Unlock()
}

func (d *DataChannel) OnMessage(f func(data []byte)) {
	d.mu.Lock()
	d.onMessage = f
	d.mu.Unlock()
}

func (d *DataChannel) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Open fires the open callback.
func (d *DataChannel) Open() {
	d.mu.Lock()
	f := d.onOpen
	d.mu.Unlock()
	if f != nil {
		f()
	}
}

// Receive fires the message callback with data.
func (d *DataChannel) Receive(data []byte) {
	d.mu.Lock()
	f := d.onMessage
	d.mu.Unlock()
	if f != nil {
		f(data)
	}
}

// RemoteClose fires the close callback.
func (d *DataChannel) RemoteClose() {
	d.mu.Lock()
	d.closed = true
	f := d.onClose
	d.mu.Unlock()
	if f != nil {
		f()
	}
}

// Sent returns the messages sent on the channel.
func (d *DataChannel) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}

// Closed reports whether the channel was closed.
func (d *DataChannel) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
